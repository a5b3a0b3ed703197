package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// WatchNotify subscribes to channel via lib/pq's LISTEN/NOTIFY support and
// pokes every listener in pokers whenever a notification arrives, giving
// the poll loop a fast path instead of waiting for the next tick. Purely
// an optimization: store.pg's outbox Insert emits the NOTIFY, but Run's
// own PollInterval ticker is the correctness backstop if this is never
// wired or the connection drops.
func WatchNotify(ctx context.Context, dsn, channel string, log *slog.Logger, pokers ...*Listener) (stop func(), err error) {
	if log == nil {
		log = slog.Default()
	}

	eventCB := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("listener: pq notify connection event", "error", err)
		}
	}
	l := pq.NewListener(dsn, 5*time.Second, time.Minute, eventCB)
	if err := l.Listen(channel); err != nil {
		l.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-l.Notify:
				if !ok {
					return
				}
				if n == nil {
					// reconnected; treat as a wake-up since we may have missed events
				}
				for _, p := range pokers {
					p.Poke()
				}
			case <-time.After(90 * time.Second):
				// lib/pq recommends a periodic ping to detect a dead connection
				go l.Ping()
			}
		}
	}()

	stop = func() {
		l.Close()
		<-done
	}
	return stop, nil
}
