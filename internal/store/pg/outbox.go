package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// OutboxStore is the durable fan-out queue the cursor-locked listener
// reads from. Each dispatcher walks it independently via its own cursor.
type OutboxStore struct {
	db *sql.DB
}

func NewOutboxStore(db *sql.DB) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Insert(ctx context.Context, streamID, kind string, payload json.RawMessage) (store.OutboxEntry, error) {
	var entry store.OutboxEntry
	entry.StreamID = streamID
	entry.Kind = kind
	entry.Payload = payload
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO outbox (stream_id, kind, payload) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		streamID, kind, []byte(payload),
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return entry, err
	}
	// lib/pq LISTEN/NOTIFY fast path: wake up any listener blocked on the
	// debounce collaborator instead of waiting out the poll interval.
	notifyPayload, _ := json.Marshal(map[string]any{"id": entry.ID, "stream_id": streamID})
	_, _ = s.db.ExecContext(ctx, `SELECT pg_notify('companionrt_outbox', $1)`, string(notifyPayload))
	return entry, nil
}

func (s *OutboxStore) FetchAfterID(ctx context.Context, cursor int64, limit int, exclude []int64) ([]store.OutboxEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, stream_id, kind, payload, created_at FROM outbox WHERE id > $1`
	args := []any{cursor}
	if len(exclude) > 0 {
		placeholders := make([]string, len(exclude))
		for i, id := range exclude {
			args = append(args, id)
			placeholders[i] = "$" + strconv.Itoa(len(args))
		}
		query += " AND id NOT IN (" + strings.Join(placeholders, ",") + ")"
	}
	args = append(args, limit)
	query += " ORDER BY id ASC LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OutboxEntry
	for rows.Next() {
		var e store.OutboxEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.StreamID, &e.Kind, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
