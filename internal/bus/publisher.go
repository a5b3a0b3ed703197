package bus

import "sync"

// Publisher is the default in-process EventPublisher: per-room maps of
// subscriber id -> handler, fanned out synchronously on Publish. A
// websocket/HTTP layer subscribes its connections here under the
// connection id; the session-trace observer publishes here after writing
// each step to storage.
type Publisher struct {
	mu    sync.RWMutex
	rooms map[string]map[string]EventHandler
}

func NewPublisher() *Publisher {
	return &Publisher{rooms: make(map[string]map[string]EventHandler)}
}

func (p *Publisher) Subscribe(room, id string, handler EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	subs, ok := p.rooms[room]
	if !ok {
		subs = make(map[string]EventHandler)
		p.rooms[room] = subs
	}
	subs[id] = handler
}

func (p *Publisher) Unsubscribe(room, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.rooms[room]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(p.rooms, room)
		}
	}
}

// Publish fans event out to every subscriber of event.Room. A panicking
// handler is isolated and does not affect other subscribers.
func (p *Publisher) Publish(event Event) {
	p.mu.RLock()
	subs := p.rooms[event.Room]
	handlers := make([]EventHandler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	p.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() { recover() }()
			h(event)
		}()
	}
}
