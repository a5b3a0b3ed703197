package pg

import (
	"context"
	"database/sql"
	"time"
)

// CursorStore implements the cursor-locked listener's lease via a single
// conditional UPDATE, the same pattern the session store uses for its
// status transitions: the WHERE clause encodes the invariant, so success
// is read straight off RowsAffected instead of a read-then-write race.
type CursorStore struct {
	db *sql.DB
}

func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db}
}

func (s *CursorStore) AcquireOrExtend(ctx context.Context, listenerID, owner string, lease time.Duration) (bool, int64, error) {
	now := time.Now()
	expires := now.Add(lease)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO listener_cursors (listener_id, last_processed, lease_owner, lease_expires_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (listener_id) DO UPDATE SET
			lease_owner = EXCLUDED.lease_owner,
			lease_expires_at = EXCLUDED.lease_expires_at
		WHERE listener_cursors.lease_expires_at < $4 OR listener_cursors.lease_owner = $2
	`, listenerID, owner, expires, now)
	if err != nil {
		return false, 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	if n == 0 {
		return false, 0, nil
	}

	var cursor int64
	err = s.db.QueryRowContext(ctx,
		`SELECT last_processed FROM listener_cursors WHERE listener_id = $1`, listenerID,
	).Scan(&cursor)
	return true, cursor, err
}

func (s *CursorStore) Advance(ctx context.Context, listenerID string, newCursor int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listener_cursors SET last_processed = $2 WHERE listener_id = $1 AND last_processed < $2`,
		listenerID, newCursor)
	return err
}

func (s *CursorStore) Release(ctx context.Context, listenerID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE listener_cursors SET lease_expires_at = now() WHERE listener_id = $1 AND lease_owner = $2`,
		listenerID, owner)
	return err
}
