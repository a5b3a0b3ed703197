package trace

import (
	"log/slog"
	"sync"
)

// Bus fans one event out to every attached Observer. A panicking or
// logging-worthy observer failure is isolated per observer and never
// prevents the others from seeing the event.
type Bus struct {
	mu        sync.RWMutex
	observers []Observer
	log       *slog.Logger
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

func (b *Bus) Attach(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	observers := make([]Observer, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, o := range observers {
		b.safeHandle(o, ev)
	}
}

func (b *Bus) safeHandle(o Observer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("trace: observer panicked", "kind", ev.Kind, "panic", r)
		}
	}()
	o.Handle(ev)
}
