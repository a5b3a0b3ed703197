// Package listener implements the Cursor-Locked Listener: a single-owner,
// lease-guaranteed polling loop over the outbox, shared by the
// CompanionDispatcher and MentionDispatcher under independent listener ids.
package listener

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/nextlevelbuilder/companionrt/internal/store"
)

// ResultKind classifies what a Process call accomplished.
type ResultKind string

const (
	ResultNoEvents  ResultKind = "no_events"
	ResultProcessed ResultKind = "processed"
	ResultError     ResultKind = "error"
)

// ProcessResult is returned by a Process callback. NewCursor, when greater
// than the current cursor, becomes the cursor value persisted after this
// call; a zero or smaller value leaves the cursor unchanged.
type ProcessResult struct {
	Kind      ResultKind
	NewCursor int64
	Err       error
}

// Process is invoked with the current cursor and a list of outbox ids to
// exclude from the fetch. Listener.Run always passes nil for that list.
type Process func(ctx context.Context, cursor int64, inProgressIDs []int64) ProcessResult

// Options configures lease timing and retry behavior.
type Options struct {
	ListenerID      string
	OwnerID         string
	LockDuration    time.Duration
	RefreshInterval time.Duration
	MaxRetries      int
	BaseBackoff     time.Duration
	// PollInterval is the cadence at which Run invokes process absent any
	// external trigger. Dispatchers additionally call Poke to force an
	// earlier pass (e.g. on LISTEN/NOTIFY wake-up).
	PollInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.LockDuration <= 0 {
		o.LockDuration = 30 * time.Second
	}
	if o.RefreshInterval <= 0 || o.RefreshInterval >= o.LockDuration/2 {
		o.RefreshInterval = o.LockDuration / 3
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 200 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.OwnerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "unknown-host"
		}
		o.OwnerID = host + ":" + o.ListenerID
	}
	return o
}

// Listener owns an exclusive, time-leased cursor and repeatedly invokes
// process until ctx is cancelled.
type Listener struct {
	opts    Options
	cursors store.CursorStore
	log     *slog.Logger
	poke    chan struct{}
}

func New(cursors store.CursorStore, opts Options, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{
		opts:    opts.withDefaults(),
		cursors: cursors,
		log:     log.With("listener_id", opts.ListenerID),
		poke:    make(chan struct{}, 1),
	}
}

// Poke requests an out-of-cadence process pass, e.g. in response to a
// LISTEN/NOTIFY wake-up. Non-blocking; coalesces with any pending poke.
func (l *Listener) Poke() {
	select {
	case l.poke <- struct{}{}:
	default:
	}
}

// Run acquires the lease (retrying with exponential backoff + jitter up to
// MaxRetries), then repeatedly calls process — on PollInterval cadence or
// whenever Poke is called — refreshing the lease on its own cadence, until
// ctx is cancelled. Lease acquisition exhaustion is a fatal bootstrap error,
// returned to the caller. The lease is always released on return, including
// when process panics.
func (l *Listener) Run(ctx context.Context, process Process) (err error) {
	cursor, err := l.acquireWithRetry(ctx)
	if err != nil {
		return err
	}

	refreshCtx, cancelRefresh := context.WithCancel(ctx)
	refreshDone := make(chan struct{})
	go l.refreshLoop(refreshCtx, refreshDone)

	defer func() {
		cancelRefresh()
		<-refreshDone
		if relErr := l.cursors.Release(context.Background(), l.opts.ListenerID, l.opts.OwnerID); relErr != nil {
			l.log.Warn("listener: release lease failed", "error", relErr)
		}
		if r := recover(); r != nil {
			l.log.Error("listener: process panicked, lease released", "panic", r)
			err = errors.New("listener: process panicked")
		}
	}()

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-l.poke:
		}

		result := process(ctx, cursor, nil)
		switch result.Kind {
		case ResultNoEvents:
		case ResultProcessed:
			if result.NewCursor > cursor {
				cursor = result.NewCursor
				if advErr := l.cursors.Advance(ctx, l.opts.ListenerID, cursor); advErr != nil {
					l.log.Error("listener: advance cursor failed", "error", advErr)
				}
			}
		case ResultError:
			l.log.Error("listener: process error", "error", result.Err)
			if result.NewCursor > cursor {
				cursor = result.NewCursor
				if advErr := l.cursors.Advance(ctx, l.opts.ListenerID, cursor); advErr != nil {
					l.log.Error("listener: advance cursor after error failed", "error", advErr)
				}
			}
		}
	}
}

func (l *Listener) acquireWithRetry(ctx context.Context) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < l.opts.MaxRetries; attempt++ {
		owned, cursor, err := l.cursors.AcquireOrExtend(ctx, l.opts.ListenerID, l.opts.OwnerID, l.opts.LockDuration)
		if err != nil {
			lastErr = err
		} else if owned {
			return cursor, nil
		} else {
			lastErr = errors.New("listener: lease held by another owner")
		}

		backoff := l.opts.BaseBackoff * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2 + 1))
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff + jitter):
		}
	}
	return 0, errorsJoinLeaseFailed(lastErr)
}

func errorsJoinLeaseFailed(cause error) error {
	if cause == nil {
		return errors.New("listener: failed to acquire lease")
	}
	return errors.New("listener: failed to acquire lease: " + cause.Error())
}

func (l *Listener) refreshLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if owned, _, err := l.cursors.AcquireOrExtend(ctx, l.opts.ListenerID, l.opts.OwnerID, l.opts.LockDuration); err != nil {
				l.log.Warn("listener: lease refresh failed, retrying next tick", "error", err)
			} else if !owned {
				l.log.Error("listener: lost lease ownership")
			}
		}
	}
}
