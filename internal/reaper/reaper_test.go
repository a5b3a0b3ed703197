package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

type stubSessions struct {
	store.SessionStore
	reapCalls int
	reapN     int
	reapErr   error
}

func (s *stubSessions) ReapStale(ctx context.Context, staleThreshold time.Duration) (int, error) {
	s.reapCalls++
	return s.reapN, s.reapErr
}

func TestReaper_SweepsOnInterval(t *testing.T) {
	sessions := &stubSessions{reapN: 2}
	r := New(sessions, 10*time.Millisecond, time.Minute, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	if sessions.reapCalls < 2 {
		t.Fatalf("expected at least 2 sweeps in 45ms at 10ms interval, got %d", sessions.reapCalls)
	}
}
