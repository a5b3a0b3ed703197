package summary

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/companionrt/internal/providers"
	"github.com/nextlevelbuilder/companionrt/internal/store"
)

type fakeSummaries struct {
	row *store.RollingSummary
}

func (f *fakeSummaries) Get(ctx context.Context, streamID, personaID string) (*store.RollingSummary, error) {
	if f.row == nil {
		return &store.RollingSummary{StreamID: streamID, PersonaID: personaID}, nil
	}
	return f.row, nil
}

func (f *fakeSummaries) Upsert(ctx context.Context, streamID, personaID, summary string, lastSummarizedSequence int64) error {
	f.row = &store.RollingSummary{StreamID: streamID, PersonaID: personaID, Summary: summary, LastSummarizedSequence: lastSummarizedSequence}
	return nil
}

type fakeMessages struct {
	byStream map[string][]store.Message
}

func (f *fakeMessages) List(ctx context.Context, streamID string, opts store.MessageListOpts) ([]store.Message, error) {
	var out []store.Message
	for _, m := range f.byStream[streamID] {
		if m.Sequence <= opts.SinceSeq {
			continue
		}
		out = append(out, m)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeMessages) ListSince(ctx context.Context, streamID string, sinceSeq int64, excludeAuthor string) ([]store.Message, error) {
	return f.List(ctx, streamID, store.MessageListOpts{SinceSeq: sinceSeq})
}

func (f *fakeMessages) FindByID(ctx context.Context, id string) (*store.Message, error) {
	return nil, nil
}

func (f *fakeMessages) FindByIDs(ctx context.Context, ids []string) ([]store.Message, error) {
	return nil, nil
}

func (f *fakeMessages) CreateMessage(ctx context.Context, p store.CreateMessageParams) (string, store.MessageOperation, error) {
	return "", store.MessageCreated, nil
}

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &providers.ChatResponse{Content: f.response}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func seedMessages(n int) []store.Message {
	var out []store.Message
	for i := 1; i <= n; i++ {
		out = append(out, store.Message{
			StreamID:   "stream-1",
			AuthorType: "human",
			Sequence:   int64(i),
			Content:    store.MessageContent{Text: "hello"},
		})
	}
	return out
}

func TestCompact_AdvancesCursorAndUpsertsSummary(t *testing.T) {
	messages := &fakeMessages{byStream: map[string][]store.Message{"stream-1": seedMessages(10)}}
	summaries := &fakeSummaries{}
	provider := &fakeProvider{response: "a concise summary"}

	svc := New(summaries, messages, provider, "test-model", nil)
	svc.BatchSize = 4

	out, err := svc.Compact(context.Background(), "stream-1", "persona-1", 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "a concise summary" {
		t.Fatalf("expected compacted summary text, got %q", out)
	}
	if summaries.row == nil {
		t.Fatalf("expected a summary row to be upserted")
	}
	if summaries.row.LastSummarizedSequence != 8 {
		t.Fatalf("expected cursor to stop at the last covered sequence (8), got %d", summaries.row.LastSummarizedSequence)
	}
	if provider.calls == 0 {
		t.Fatalf("expected the provider to be called at least once")
	}
}

func TestCompact_NothingToDoLeavesSummaryUntouched(t *testing.T) {
	messages := &fakeMessages{byStream: map[string][]store.Message{"stream-1": seedMessages(2)}}
	summaries := &fakeSummaries{row: &store.RollingSummary{StreamID: "stream-1", PersonaID: "persona-1", Summary: "old", LastSummarizedSequence: 2}}
	provider := &fakeProvider{response: "should not be called"}

	svc := New(summaries, messages, provider, "test-model", nil)
	out, err := svc.Compact(context.Background(), "stream-1", "persona-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "old" {
		t.Fatalf("expected the existing summary to be returned unchanged, got %q", out)
	}
	if provider.calls != 0 {
		t.Fatalf("expected no LLM call when there is nothing new to summarize, got %d calls", provider.calls)
	}
}

func TestCompact_LLMErrorIsNonFatalAndReturnsPreviousSummary(t *testing.T) {
	messages := &fakeMessages{byStream: map[string][]store.Message{"stream-1": seedMessages(10)}}
	summaries := &fakeSummaries{row: &store.RollingSummary{StreamID: "stream-1", PersonaID: "persona-1", Summary: "previous summary", LastSummarizedSequence: 0}}
	provider := &fakeProvider{err: context.DeadlineExceeded}

	svc := New(summaries, messages, provider, "test-model", nil)
	out, err := svc.Compact(context.Background(), "stream-1", "persona-1", 9)
	if err != nil {
		t.Fatalf("expected Compact to never return an error, got %v", err)
	}
	if out != "previous summary" {
		t.Fatalf("expected the previous summary on LLM failure, got %q", out)
	}
	if summaries.row.LastSummarizedSequence != 0 {
		t.Fatalf("expected the cursor to stay put after a failed compaction")
	}
}
