package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// SummaryStore persists the Rolling Summary Service's per-(stream,
// persona) compacted record. Upsert never allows lastSummarizedSequence
// to regress, even if called with a stale value by a race — the WHERE
// clause on the UPDATE arm of the upsert enforces monotonicity.
type SummaryStore struct {
	db *sql.DB
}

func NewSummaryStore(db *sql.DB) *SummaryStore {
	return &SummaryStore{db: db}
}

func (s *SummaryStore) Get(ctx context.Context, streamID, personaID string) (*store.RollingSummary, error) {
	var rs store.RollingSummary
	rs.StreamID, rs.PersonaID = streamID, personaID
	err := s.db.QueryRowContext(ctx, `
		SELECT summary, last_summarized_sequence, updated_at
		FROM rolling_summary WHERE stream_id = $1 AND persona_id = $2
	`, streamID, personaID).Scan(&rs.Summary, &rs.LastSummarizedSequence, &rs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.RollingSummary{StreamID: streamID, PersonaID: personaID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &rs, nil
}

func (s *SummaryStore) Upsert(ctx context.Context, streamID, personaID, summary string, lastSummarizedSequence int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rolling_summary (stream_id, persona_id, summary, last_summarized_sequence, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (stream_id, persona_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			last_summarized_sequence = EXCLUDED.last_summarized_sequence,
			updated_at = now()
		WHERE rolling_summary.last_summarized_sequence <= EXCLUDED.last_summarized_sequence
	`, streamID, personaID, summary, lastSummarizedSequence)
	return err
}
