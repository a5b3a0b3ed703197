package trace

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/companionrt/internal/bus"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

type fakeSteps struct {
	started   []store.AgentStep
	completed []string
}

func (f *fakeSteps) StartStep(ctx context.Context, sessionID, stepType, content string) (*store.AgentStep, error) {
	step := store.AgentStep{ID: uuid.NewString(), SessionID: sessionID, StepType: stepType, Content: content, StepNumber: len(f.started) + 1}
	f.started = append(f.started, step)
	return &step, nil
}

func (f *fakeSteps) CompleteStep(ctx context.Context, stepID, content string, sources []store.SourceItem) error {
	f.completed = append(f.completed, stepID)
	return nil
}

type fakePublisher struct {
	published []bus.Event
}

func (f *fakePublisher) Subscribe(room, id string, handler bus.EventHandler) {}
func (f *fakePublisher) Unsubscribe(room, id string)                        {}
func (f *fakePublisher) Publish(event bus.Event) {
	f.published = append(f.published, event)
}

func TestSessionObserver_BracketsToolSpanAcrossStartAndComplete(t *testing.T) {
	steps := &fakeSteps{}
	pub := &fakePublisher{}
	obs := NewSessionObserver(steps, pub, "", nil)

	obs.Handle(Event{Kind: KindToolStart, SessionID: "s1", StreamID: "st1", ToolName: "web_fetch", ToolInput: "url=..."})
	if len(steps.started) != 1 {
		t.Fatalf("expected a step started on tool:start, got %d", len(steps.started))
	}

	obs.Handle(Event{Kind: KindToolComplete, SessionID: "s1", StreamID: "st1", ToolName: "web_fetch", ToolOutput: "ok"})
	if len(steps.completed) != 1 {
		t.Fatalf("expected the step completed on tool:complete, got %d", len(steps.completed))
	}
	if steps.completed[0] != steps.started[0].ID {
		t.Fatalf("expected the same step id completed as was started")
	}
}

func TestSessionObserver_PublishesToSessionAndStreamRooms(t *testing.T) {
	steps := &fakeSteps{}
	pub := &fakePublisher{}
	obs := NewSessionObserver(steps, pub, "", nil)

	obs.Handle(Event{Kind: KindThinking, SessionID: "s1", StreamID: "st1", Text: "hi"})

	if len(pub.published) != 2 {
		t.Fatalf("expected publish to session and stream rooms, got %d", len(pub.published))
	}
	rooms := map[string]bool{pub.published[0].Room: true, pub.published[1].Room: true}
	if !rooms["session:s1"] || !rooms["stream:st1"] {
		t.Fatalf("expected session:s1 and stream:st1 rooms, got %v", rooms)
	}
}
