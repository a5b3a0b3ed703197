// Package sessions implements the Session Lifecycle Manager: the
// withCompanionSession three-phase acquire/work/complete protocol that
// wraps one bounded agent run on top of store.SessionStore, so no database
// connection is held across the long-running work phase (an LLM call can
// take tens of seconds; pinning a pooled connection for that long would
// starve the pool).
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// DefaultHeartbeatInterval is comfortably inside the orphan reaper's
// default ~60s stale threshold.
const DefaultHeartbeatInterval = 15 * time.Second

// Outcome reports what Run actually did.
type Outcome struct {
	Status  store.AcquireOutcome
	Session *store.AgentSession
	Reason  string
}

// WorkFunc is Phase 2's body. It receives the acquired session and returns
// the parameters Phase 3 commits. A returned error fails the session
// instead of completing it.
type WorkFunc func(ctx context.Context, session *store.AgentSession) (store.CompleteParams, error)

// Manager runs the acquire/work/complete protocol over a SessionStore.
type Manager struct {
	Sessions          store.SessionStore
	ServerID          string
	HeartbeatInterval time.Duration
	Log               *slog.Logger
}

func New(sessions store.SessionStore, serverID string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{Sessions: sessions, ServerID: serverID, HeartbeatInterval: DefaultHeartbeatInterval, Log: log}
}

func (m *Manager) heartbeatInterval() time.Duration {
	if m.HeartbeatInterval <= 0 {
		return DefaultHeartbeatInterval
	}
	return m.HeartbeatInterval
}

// Run executes the three-phase protocol for one trigger message. work only
// runs when acquisition succeeds (outcome created or resumed); a skipped
// acquisition returns immediately with no error and no work invoked.
func (m *Manager) Run(ctx context.Context, p store.AcquireParams, work WorkFunc) (Outcome, error) {
	if p.ServerID == "" {
		p.ServerID = m.ServerID
	}

	session, outcome, err := m.Sessions.AcquireOrResume(ctx, p)
	if err != nil {
		return Outcome{}, fmt.Errorf("sessions: acquire: %w", err)
	}
	if outcome == store.OutcomeSkipped {
		return Outcome{Status: outcome, Session: session, Reason: skipReason(session)}, nil
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	m.startHeartbeat(hbCtx, session.ID)

	params, workErr := work(ctx, session)
	stopHeartbeat()

	if workErr != nil {
		if failErr := m.Sessions.Fail(context.Background(), session.ID, workErr.Error()); failErr != nil {
			m.Log.Error("sessions: marking session failed also failed", "session_id", session.ID, "work_error", workErr, "fail_error", failErr)
		}
		return Outcome{Status: store.OutcomeFailed, Session: session}, workErr
	}

	completeOutcome, err := m.Sessions.Complete(context.Background(), session.ID, params)
	if err != nil {
		return Outcome{Session: session}, fmt.Errorf("sessions: complete: %w", err)
	}
	return Outcome{Status: completeOutcome, Session: session}, nil
}

// startHeartbeat ticks Heartbeat until ctx is done. It always uses a fresh
// background context for the store call itself so a cancelled ctx doesn't
// also cancel the final tick's write.
func (m *Manager) startHeartbeat(ctx context.Context, sessionID string) {
	interval := m.heartbeatInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Sessions.Heartbeat(context.Background(), sessionID); err != nil {
					m.Log.Warn("sessions: heartbeat write failed", "session_id", sessionID, "error", err)
				}
			}
		}
	}()
}

func skipReason(session *store.AgentSession) string {
	if session == nil {
		return "already completed"
	}
	if session.Status == store.SessionCompleted {
		return "already completed"
	}
	return "agent already running for stream"
}
