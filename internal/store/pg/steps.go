package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// StepStore records the agent runtime's per-session trace. StartStep
// assigns stepNumber as MAX(step_number)+1 for the session inside its
// INSERT, so numbers are strictly increasing with no gaps while writes to a
// session come from one owner; if two StartStep calls for one session race,
// the unique index on (session_id, step_number) rejects the duplicate.
type StepStore struct {
	db *sql.DB
}

func NewStepStore(db *sql.DB) *StepStore {
	return &StepStore{db: db}
}

func (s *StepStore) StartStep(ctx context.Context, sessionID, stepType, content string) (*store.AgentStep, error) {
	id := uuid.Must(uuid.NewV7()).String()
	var stepNumber int
	err := s.db.QueryRowContext(ctx, `
		WITH next_num AS (
			SELECT COALESCE(MAX(step_number), 0) + 1 AS n FROM agent_steps WHERE session_id = $1
		)
		INSERT INTO agent_steps (id, session_id, step_number, step_type, content, started_at)
		SELECT $2, $1, next_num.n, $3, $4, now() FROM next_num
		RETURNING step_number
	`, sessionID, id, stepType, content).Scan(&stepNumber)
	if err != nil {
		return nil, err
	}
	return &store.AgentStep{
		ID: id, SessionID: sessionID, StepNumber: stepNumber, StepType: stepType, Content: content,
	}, nil
}

func (s *StepStore) CompleteStep(ctx context.Context, stepID, content string, sources []store.SourceItem) error {
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE agent_steps SET content = $2, sources = $3, completed_at = now()
		WHERE id = $1
	`, stepID, content, []byte(sourcesJSON))
	return err
}
