package bus

import "testing"

func TestPublisher_FansOutOnlyToMatchingRoom(t *testing.T) {
	p := NewPublisher()
	var sessionGot, streamGot int

	p.Subscribe("session:1", "a", func(Event) { sessionGot++ })
	p.Subscribe("stream:1", "b", func(Event) { streamGot++ })

	p.Publish(Event{Room: "session:1", Name: "thinking"})

	if sessionGot != 1 {
		t.Fatalf("expected session subscriber to receive event, got %d", sessionGot)
	}
	if streamGot != 0 {
		t.Fatalf("expected stream subscriber to not receive event for a different room, got %d", streamGot)
	}
}

func TestPublisher_UnsubscribeStopsDelivery(t *testing.T) {
	p := NewPublisher()
	var got int
	p.Subscribe("session:1", "a", func(Event) { got++ })
	p.Unsubscribe("session:1", "a")
	p.Publish(Event{Room: "session:1"})
	if got != 0 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", got)
	}
}

func TestPublisher_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	p := NewPublisher()
	var got int
	p.Subscribe("session:1", "panicky", func(Event) { panic("boom") })
	p.Subscribe("session:1", "fine", func(Event) { got++ })
	p.Publish(Event{Room: "session:1"})
	if got != 1 {
		t.Fatalf("expected the non-panicking subscriber to still receive the event, got %d", got)
	}
}
