package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// EventLogStore is the append-only history table. Rows are never updated
// or deleted; id is a bigserial so ordering is insertion order.
type EventLogStore struct {
	db *sql.DB
}

func NewEventLogStore(db *sql.DB) *EventLogStore {
	return &EventLogStore{db: db}
}

func (s *EventLogStore) Append(ctx context.Context, streamID, kind string, payload json.RawMessage) (store.EventLogEntry, error) {
	var entry store.EventLogEntry
	entry.Kind = kind
	entry.Payload = payload
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO event_log (stream_id, kind, payload) VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		streamID, kind, []byte(payload),
	).Scan(&entry.ID, &entry.CreatedAt)
	return entry, err
}
