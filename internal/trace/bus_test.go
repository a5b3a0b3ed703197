package trace

import "testing"

type recordingObserver struct {
	events []Event
}

func (r *recordingObserver) Handle(ev Event) { r.events = append(r.events, ev) }

type panickyObserver struct{}

func (panickyObserver) Handle(ev Event) { panic("boom") }

func TestBus_FansOutToEveryObserver(t *testing.T) {
	bus := NewBus(nil)
	a := &recordingObserver{}
	b := &recordingObserver{}
	bus.Attach(a)
	bus.Attach(b)

	bus.Publish(Event{Kind: KindThinking, SessionID: "s1"})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both observers to receive the event, got %d and %d", len(a.events), len(b.events))
	}
}

func TestBus_PanickingObserverDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)
	bus.Attach(panickyObserver{})
	b := &recordingObserver{}
	bus.Attach(b)

	bus.Publish(Event{Kind: KindSessionStart})

	if len(b.events) != 1 {
		t.Fatalf("expected the non-panicking observer to still receive the event, got %d", len(b.events))
	}
}
