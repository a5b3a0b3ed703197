package pg

import (
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// NewStores opens the Postgres pool and wires every store.* interface to
// it. The returned *sql.DB is also returned so callers (cmd/migrate.go,
// the listener's NOTIFY fast path, the Postgres-backed queue) can share
// the same pool.
func NewStores(dsn string, maxConns int) (*store.Stores, *sql.DB, error) {
	db, err := OpenDB(dsn, maxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		EventLog:       NewEventLogStore(db),
		Outbox:         NewOutboxStore(db),
		Cursors:        NewCursorStore(db),
		Sessions:       NewSessionStore(db),
		Steps:          NewStepStore(db),
		Summaries:      NewSummaryStore(db),
		Messages:       NewMessageStore(db),
		Attachments:    NewAttachmentStore(db),
		StreamSettings: NewStreamSettingsStore(db),
	}, db, nil
}
