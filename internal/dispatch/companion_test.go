package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nextlevelbuilder/companionrt/internal/config"
	"github.com/nextlevelbuilder/companionrt/internal/listener"
	"github.com/nextlevelbuilder/companionrt/internal/queue"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

type fakeOutbox struct {
	entries []store.OutboxEntry
}

func (f *fakeOutbox) Insert(ctx context.Context, streamID, kind string, payload json.RawMessage) (store.OutboxEntry, error) {
	return store.OutboxEntry{}, nil
}

func (f *fakeOutbox) FetchAfterID(ctx context.Context, cursor int64, limit int, exclude []int64) ([]store.OutboxEntry, error) {
	var out []store.OutboxEntry
	for _, e := range f.entries {
		if e.ID > cursor {
			out = append(out, e)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeSessions struct {
	byStream map[string]*store.AgentSession
}

func (f *fakeSessions) AcquireOrResume(ctx context.Context, p store.AcquireParams) (*store.AgentSession, store.AcquireOutcome, error) {
	return nil, store.OutcomeSkipped, nil
}
func (f *fakeSessions) Heartbeat(ctx context.Context, sessionID string) error { return nil }
func (f *fakeSessions) Complete(ctx context.Context, sessionID string, p store.CompleteParams) (store.AcquireOutcome, error) {
	return store.OutcomeCompleted, nil
}
func (f *fakeSessions) Fail(ctx context.Context, sessionID string, errMsg string) error { return nil }
func (f *fakeSessions) ReapStale(ctx context.Context, staleThreshold time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeSessions) Get(ctx context.Context, sessionID string) (*store.AgentSession, error) {
	return nil, nil
}
func (f *fakeSessions) GetByStream(ctx context.Context, streamID string) (*store.AgentSession, error) {
	return f.byStream[streamID], nil
}

type fakeStreams struct {
	settings map[string]*store.StreamSettings
}

func (f *fakeStreams) Get(ctx context.Context, streamID string) (*store.StreamSettings, error) {
	return f.settings[streamID], nil
}

type fakeQueue struct {
	sent []queue.PersonaAgentJob
}

func (f *fakeQueue) Send(ctx context.Context, queueName string, data any) error {
	f.sent = append(f.sent, data.(queue.PersonaAgentJob))
	return nil
}
func (f *fakeQueue) Consume(ctx context.Context, queueName string, handler queue.Handler) error {
	return nil
}

func personaCfg() *config.Config {
	cfg := config.Default()
	cfg.Personas.List = map[string]config.PersonaSpec{"sage": {DisplayName: "Sage"}}
	return cfg
}

func mustPayload(t *testing.T, p MessageCreatedPayload) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCompanionDispatcher_SkipsWhenAlreadyAbsorbed(t *testing.T) {
	payload := mustPayload(t, MessageCreatedPayload{
		StreamID: "s1", MessageID: "m2", AuthorID: "u1", AuthorType: "human", MessageSequence: 5,
	})
	outbox := &fakeOutbox{entries: []store.OutboxEntry{{ID: 1, StreamID: "s1", Kind: MessageCreatedKind, Payload: payload}}}
	sessions := &fakeSessions{byStream: map[string]*store.AgentSession{
		"s1": {Status: store.SessionCompleted, LastSeenSequence: 10},
	}}
	streams := &fakeStreams{settings: map[string]*store.StreamSettings{
		"s1": {StreamID: "s1", CompanionEnabled: true, PersonaID: "sage"},
	}}
	q := &fakeQueue{}

	d := &CompanionDispatcher{Outbox: outbox, Sessions: sessions, Streams: streams, Personas: NewPersonaDirectory(personaCfg()), Queue: q}
	result := d.Process(context.Background(), 0, nil)

	if result.Kind != listener.ResultProcessed {
		t.Fatalf("expected ResultProcessed, got %v (err=%v)", result.Kind, result.Err)
	}
	if len(q.sent) != 0 {
		t.Fatalf("expected no job enqueued when lastSeenSequence >= messageSequence, got %d", len(q.sent))
	}
	if result.NewCursor != 1 {
		t.Fatalf("expected cursor advanced to 1, got %d", result.NewCursor)
	}
}

func TestCompanionDispatcher_EnqueuesWhenEligible(t *testing.T) {
	payload := mustPayload(t, MessageCreatedPayload{
		StreamID: "s1", MessageID: "m2", AuthorID: "u1", AuthorType: "human", MessageSequence: 5,
	})
	outbox := &fakeOutbox{entries: []store.OutboxEntry{{ID: 1, StreamID: "s1", Kind: MessageCreatedKind, Payload: payload}}}
	sessions := &fakeSessions{byStream: map[string]*store.AgentSession{}}
	streams := &fakeStreams{settings: map[string]*store.StreamSettings{
		"s1": {StreamID: "s1", CompanionEnabled: true, PersonaID: "sage"},
	}}
	q := &fakeQueue{}

	d := &CompanionDispatcher{Outbox: outbox, Sessions: sessions, Streams: streams, Personas: NewPersonaDirectory(personaCfg()), Queue: q}
	d.Process(context.Background(), 0, nil)

	if len(q.sent) != 1 {
		t.Fatalf("expected one job enqueued, got %d", len(q.sent))
	}
	if q.sent[0].TriggeredBy != "MESSAGE" {
		t.Fatalf("expected TriggeredBy=MESSAGE, got %q", q.sent[0].TriggeredBy)
	}
}

func TestMentionDispatcher_OneJobPerPersonaDespiteDuplicateMentions(t *testing.T) {
	payload := mustPayload(t, MessageCreatedPayload{
		StreamID: "s1", MessageID: "m3", AuthorID: "u1", AuthorType: "human",
		ContentMarkdown: "hey @sage can you help? cc @sage again",
	})
	outbox := &fakeOutbox{entries: []store.OutboxEntry{{ID: 1, StreamID: "s1", Kind: MessageCreatedKind, Payload: payload}}}
	q := &fakeQueue{}

	d := &MentionDispatcher{Outbox: outbox, Personas: NewPersonaDirectory(personaCfg()), Queue: q}
	d.Process(context.Background(), 0, nil)

	if len(q.sent) != 1 {
		t.Fatalf("expected exactly one job despite duplicate mentions, got %d", len(q.sent))
	}
	if q.sent[0].TriggeredBy != "MENTION" {
		t.Fatalf("expected TriggeredBy=MENTION, got %q", q.sent[0].TriggeredBy)
	}
}

func TestMentionDispatcher_IgnoresPersonaAuthoredMessages(t *testing.T) {
	payload := mustPayload(t, MessageCreatedPayload{
		StreamID: "s1", MessageID: "m4", AuthorID: "sage", AuthorType: "persona",
		ContentMarkdown: "@sage loop bait",
	})
	outbox := &fakeOutbox{entries: []store.OutboxEntry{{ID: 1, StreamID: "s1", Kind: MessageCreatedKind, Payload: payload}}}
	q := &fakeQueue{}

	d := &MentionDispatcher{Outbox: outbox, Personas: NewPersonaDirectory(personaCfg()), Queue: q}
	d.Process(context.Background(), 0, nil)

	if len(q.sent) != 0 {
		t.Fatalf("expected no job for persona-authored message, got %d", len(q.sent))
	}
}
