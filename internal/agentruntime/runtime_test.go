package agentruntime

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/companionrt/internal/providers"
	"github.com/nextlevelbuilder/companionrt/internal/store"
	"github.com/nextlevelbuilder/companionrt/internal/tools"
)

type stubProvider struct {
	responses []providers.ChatResponse
	calls     int
}

func (p *stubProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if p.calls >= len(p.responses) {
		return &providers.ChatResponse{Content: "fallback"}, nil
	}
	resp := p.responses[p.calls]
	p.calls++
	return &resp, nil
}

func (p *stubProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return p.Chat(ctx, req)
}

func (p *stubProvider) DefaultModel() string { return "stub-model" }
func (p *stubProvider) Name() string         { return "stub" }

func newRegistry() *tools.Registry {
	return tools.NewRegistry()
}

func baseRequest(provider *stubProvider) Request {
	return Request{
		Session:  &store.AgentSession{ID: "sess-1"},
		StreamID: "stream-1", PersonaID: "persona-1",
		Provider: provider,
		Messages: []providers.Message{{Role: "system", Content: "you are helpful"}},
		Registry: newRegistry(),
		Send: func(ctx context.Context, text string) (string, bool, error) {
			return "msg-" + text, false, nil
		},
	}
}

func TestRun_TextOnlyNoNewMessagesSendsAndEnds(t *testing.T) {
	provider := &stubProvider{responses: []providers.ChatResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	req := baseRequest(provider)
	req.Poll = func(ctx context.Context, sinceSeq int64) ([]store.Message, error) { return nil, nil }

	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.SentMessageIDs) != 1 {
		t.Fatalf("expected one sent message, got %v", result.SentMessageIDs)
	}
	if result.NoMessage {
		t.Fatal("expected a message to have been sent")
	}
}

func TestRun_TextOnlyReconsidersOnceOnNewMessages(t *testing.T) {
	provider := &stubProvider{responses: []providers.ChatResponse{
		{Content: "draft one", FinishReason: "stop"},
		{Content: "final answer", FinishReason: "stop"},
	}}
	req := baseRequest(provider)
	polls := 0
	req.Poll = func(ctx context.Context, sinceSeq int64) ([]store.Message, error) {
		polls++
		if polls == 1 {
			return []store.Message{{ID: "m2", Sequence: 2, Content: store.MessageContent{Text: "wait, one more thing"}}}, nil
		}
		return nil, nil
	}

	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.SentMessageIDs) != 1 || result.ResponseMessageID != "msg-final answer" {
		t.Fatalf("expected final answer sent after reconsideration, got %+v", result)
	}
	if provider.calls != 2 {
		t.Fatalf("expected exactly one reconsideration round trip, got %d LLM calls", provider.calls)
	}
}

func TestRun_KeepResponseWithNoNewMessagesEndsSilently(t *testing.T) {
	provider := &stubProvider{responses: []providers.ChatResponse{
		{
			Content: "",
			ToolCalls: []providers.ToolCall{
				{ID: "call-1", Name: keepResponseToolName, Arguments: map[string]interface{}{"reason": "nothing to add"}},
			},
			FinishReason: "tool_calls",
		},
	}}
	req := baseRequest(provider)
	req.AllowNoMessageOutput = true
	req.Poll = func(ctx context.Context, sinceSeq int64) ([]store.Message, error) { return nil, nil }

	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.NoMessage || result.NoMessageReason != "nothing to add" {
		t.Fatalf("expected keep-response no-message result, got %+v", result)
	}
	if len(result.SentMessageIDs) != 0 {
		t.Fatal("expected no messages sent when keeping silent")
	}
}

func TestRun_SendMessageToolStagesThenCommits(t *testing.T) {
	provider := &stubProvider{responses: []providers.ChatResponse{
		{
			Content: "",
			ToolCalls: []providers.ToolCall{
				{ID: "call-1", Name: sendMessageToolName, Arguments: map[string]interface{}{"message": "all set"}},
			},
			FinishReason: "tool_calls",
		},
	}}
	req := baseRequest(provider)
	req.Poll = func(ctx context.Context, sinceSeq int64) ([]store.Message, error) { return nil, nil }

	result, err := Run(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.SentMessageIDs) != 1 || result.ResponseMessageID != "msg-all set" {
		t.Fatalf("expected the staged message committed, got %+v", result)
	}
}

func TestRun_KeepResponseIgnoredWithoutAllowNoMessageOutput(t *testing.T) {
	toolCallResp := providers.ChatResponse{
		Content: "",
		ToolCalls: []providers.ToolCall{
			{ID: "call-1", Name: keepResponseToolName, Arguments: map[string]interface{}{"reason": "n/a"}},
		},
		FinishReason: "tool_calls",
	}
	responses := make([]providers.ChatResponse, DefaultMaxIterations)
	for i := range responses {
		responses[i] = toolCallResp
	}
	provider := &stubProvider{responses: responses}
	req := baseRequest(provider)
	req.Poll = func(ctx context.Context, sinceSeq int64) ([]store.Message, error) { return nil, nil }

	_, err := Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected loop exhaustion: keep_response isn't offered when AllowNoMessageOutput is false, so it never stages and nothing is ever sent")
	}
}

func TestRun_LoopExhaustionWithoutSendingFails(t *testing.T) {
	var responses []providers.ChatResponse
	for i := 0; i < DefaultMaxIterations; i++ {
		responses = append(responses, providers.ChatResponse{Content: "still thinking", FinishReason: "stop"})
	}
	provider := &stubProvider{responses: responses}
	req := baseRequest(provider)
	callCount := 0
	req.Poll = func(ctx context.Context, sinceSeq int64) ([]store.Message, error) {
		callCount++
		// no new messages; Validate below rejects every draft, forcing exhaustion
		return nil, nil
	}
	req.Validate = func(text string) (string, bool) { return "never good enough", false }

	_, err := Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected loop exhaustion error when nothing is ever sent")
	}
}
