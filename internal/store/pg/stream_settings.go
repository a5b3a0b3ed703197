package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

type StreamSettingsStore struct {
	db *sql.DB
}

func NewStreamSettingsStore(db *sql.DB) *StreamSettingsStore {
	return &StreamSettingsStore{db: db}
}

func (s *StreamSettingsStore) Get(ctx context.Context, streamID string) (*store.StreamSettings, error) {
	var out store.StreamSettings
	var personaID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_id, companion_enabled, persona_id, stream_type FROM stream_settings WHERE stream_id = $1`,
		streamID,
	).Scan(&out.StreamID, &out.CompanionEnabled, &personaID, &out.StreamType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out.PersonaID = personaID.String
	return &out, nil
}
