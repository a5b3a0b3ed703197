package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// SessionStore implements the Session Lifecycle Manager's storage side.
// Every transition is a single conditional UPDATE/INSERT so the partial
// unique index (at most one running session per stream) and the
// triggerMessageId uniqueness (retry idempotence) are enforced by
// Postgres itself, not by application-level locking.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) AcquireOrResume(ctx context.Context, p store.AcquireParams) (*store.AgentSession, store.AcquireOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.OutcomeFailed, err
	}
	defer tx.Rollback()

	existing, err := scanSession(tx.QueryRowContext(ctx, sessionSelectByTrigger, p.TriggerMessageID))
	switch {
	case err == nil:
		if existing.Status == store.SessionCompleted {
			return nil, store.OutcomeSkipped, tx.Commit()
		}
		// pending|running|failed: resume by transitioning to running.
		res, err := tx.ExecContext(ctx,
			`UPDATE agent_sessions SET status = $2, heartbeat_at = now() WHERE id = $1`,
			existing.ID, store.SessionRunning)
		if err != nil {
			return nil, store.OutcomeFailed, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, store.OutcomeSkipped, tx.Commit()
		}
		existing.Status = store.SessionRunning
		if err := s.appendEventTx(ctx, tx, existing.StreamID, "session_started", existing.ID); err != nil {
			return nil, store.OutcomeFailed, err
		}
		if err := tx.Commit(); err != nil {
			return nil, store.OutcomeFailed, err
		}
		return existing, store.OutcomeResumed, nil

	case errors.Is(err, sql.ErrNoRows):
		id := uuid.Must(uuid.NewV7()).String()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_sessions
				(id, stream_id, persona_id, trigger_message_id, status, server_id, heartbeat_at, last_seen_sequence)
			VALUES ($1, $2, $3, $4, 'running', $5, now(), $6)
			ON CONFLICT DO NOTHING
		`, id, p.StreamID, p.PersonaID, p.TriggerMessageID, p.ServerID, p.InitialSequence)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				// Unique violation on the partial running index: another
				// worker won the race for this stream.
				return nil, store.OutcomeSkipped, tx.Commit()
			}
			return nil, store.OutcomeFailed, err
		}

		created, err := scanSession(tx.QueryRowContext(ctx, sessionSelectByID, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// ON CONFLICT DO NOTHING swallowed the insert: a running
				// session for this stream already exists.
				return nil, store.OutcomeSkipped, tx.Commit()
			}
			return nil, store.OutcomeFailed, err
		}
		if err := s.appendEventTx(ctx, tx, created.StreamID, "session_started", created.ID); err != nil {
			return nil, store.OutcomeFailed, err
		}
		if err := tx.Commit(); err != nil {
			return nil, store.OutcomeFailed, err
		}
		return created, store.OutcomeCreated, nil

	default:
		return nil, store.OutcomeFailed, err
	}
}

func (s *SessionStore) Heartbeat(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE agent_sessions SET heartbeat_at = now() WHERE id = $1 AND status = 'running'`,
		sessionID)
	return err
}

func (s *SessionStore) Complete(ctx context.Context, sessionID string, p store.CompleteParams) (store.AcquireOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.OutcomeFailed, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE agent_sessions
		SET status = 'completed', completed_at = now(),
		    last_seen_sequence = $2, response_message_id = $3, sent_message_ids = $4
		WHERE id = $1 AND status = 'running'
	`, sessionID, p.LastSeenSequence, nilStr(p.ResponseMessageID), pq.Array(p.SentMessageIDs))
	if err != nil {
		return store.OutcomeFailed, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.OutcomeFailed, err
	}
	if n == 0 {
		// Session was concurrently superseded or deleted: not an error.
		return store.OutcomeSkipped, tx.Commit()
	}

	var streamID string
	if err := tx.QueryRowContext(ctx, `SELECT stream_id FROM agent_sessions WHERE id = $1`, sessionID).Scan(&streamID); err != nil {
		return store.OutcomeFailed, err
	}
	if err := s.appendEventTx(ctx, tx, streamID, "session_completed", sessionID); err != nil {
		return store.OutcomeFailed, err
	}
	return store.OutcomeCompleted, tx.Commit()
}

func (s *SessionStore) Fail(ctx context.Context, sessionID string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE agent_sessions SET status = 'failed', completed_at = now(), error = $2
		WHERE id = $1 AND status IN ('running', 'pending')
	`, sessionID, errMsg)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Commit()
	}

	var streamID string
	if err := tx.QueryRowContext(ctx, `SELECT stream_id FROM agent_sessions WHERE id = $1`, sessionID).Scan(&streamID); err != nil {
		return err
	}
	if err := s.appendEventTx(ctx, tx, streamID, "session_failed", sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReapStale implements the Orphan Reaper's sweep: a single conditional
// UPDATE across every stale session, safe to run concurrently from
// multiple worker nodes.
func (s *SessionStore) ReapStale(ctx context.Context, staleThreshold time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_sessions
		SET status = 'failed', completed_at = now(), error = 'orphaned (stale heartbeat)'
		WHERE status = 'running' AND heartbeat_at < $1
	`, time.Now().Add(-staleThreshold))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*store.AgentSession, error) {
	return scanSession(s.db.QueryRowContext(ctx, sessionSelectByID, sessionID))
}

func (s *SessionStore) GetByStream(ctx context.Context, streamID string) (*store.AgentSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, sessionSelectByStream, streamID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

const sessionColumns = `
	id, stream_id, persona_id, trigger_message_id, status, server_id,
	heartbeat_at, last_seen_sequence, sent_message_ids, response_message_id,
	created_at, completed_at, error
`

const sessionSelectByID = `SELECT` + sessionColumns + `FROM agent_sessions WHERE id = $1`
const sessionSelectByTrigger = `SELECT` + sessionColumns + `FROM agent_sessions WHERE trigger_message_id = $1`

// sessionSelectByStream favors a running/pending row over any terminal
// one, then falls back to the most recently created row for the stream.
const sessionSelectByStream = `SELECT` + sessionColumns + `FROM agent_sessions
	WHERE stream_id = $1
	ORDER BY (status IN ('running', 'pending')) DESC, created_at DESC
	LIMIT 1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*store.AgentSession, error) {
	var sess store.AgentSession
	var responseMsgID, errText sql.NullString
	var completedAt sql.NullTime
	var sentIDs pq.StringArray

	err := row.Scan(
		&sess.ID, &sess.StreamID, &sess.PersonaID, &sess.TriggerMessageID, &sess.Status, &sess.ServerID,
		&sess.HeartbeatAt, &sess.LastSeenSequence, &sentIDs, &responseMsgID,
		&sess.CreatedAt, &completedAt, &errText,
	)
	if err != nil {
		return nil, err
	}
	sess.SentMessageIDs = []string(sentIDs)
	sess.ResponseMessageID = responseMsgID.String
	sess.Error = errText.String
	if completedAt.Valid {
		t := completedAt.Time
		sess.CompletedAt = &t
	}
	return &sess, nil
}

func (s *SessionStore) appendEventTx(ctx context.Context, tx *sql.Tx, streamID, kind, sessionID string) error {
	payload := []byte(`{"session_id":"` + sessionID + `"}`)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO event_log (stream_id, kind, payload) VALUES ($1, $2, $3)`,
		streamID, kind, payload); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO outbox (stream_id, kind, payload) VALUES ($1, $2, $3)`,
		streamID, kind, payload)
	return err
}

func nilStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
