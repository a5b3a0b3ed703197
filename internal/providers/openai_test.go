package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("expected path /chat/completions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["model"] != "gpt-4o" {
			t.Errorf("expected model gpt-4o, got %v", body["model"])
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIResponse{
			Choices: []struct {
				Message      openAIMessage `json:"message"`
				FinishReason string        `json:"finish_reason"`
			}{
				{Message: openAIMessage{Content: "Hello!"}, FinishReason: "stop"},
			},
			Usage: &openAIUsage{PromptTokens: 5, CompletionTokens: 2, TotalTokens: 7},
		})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "test-key", srv.URL, "gpt-4o")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", resp.Content)
	}
	if resp.Usage.PromptTokens != 5 || resp.Usage.CompletionTokens != 2 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIProvider_ChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "test-key", srv.URL, "gpt-4o")
	p.retryConfig = RetryConfig{MaxAttempts: 1, BaseDelay: 0}

	_, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestOpenAIProvider_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":" world"}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			`[DONE]`,
		}
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "test-key", srv.URL, "gpt-4o")

	var deltas []string
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hi"}},
	}, func(c StreamChunk) {
		if c.Content != "" {
			deltas = append(deltas, c.Content)
		}
	})
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if resp.Content != "Hello world" {
		t.Errorf("expected content 'Hello world', got %q", resp.Content)
	}
	if len(deltas) != 2 {
		t.Errorf("expected 2 text deltas, got %d: %v", len(deltas), deltas)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 5 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIProvider_ChatStreamToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\""}}]}}]}`,
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":":\"London\"}"}}]}}]}`,
			`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
			`[DONE]`,
		}
		for _, c := range chunks {
			w.Write([]byte("data: " + c + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "test-key", srv.URL, "gpt-4o")
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "weather in London"}},
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Name != "get_weather" {
		t.Errorf("expected tool name get_weather, got %q", resp.ToolCalls[0].Name)
	}
	if resp.ToolCalls[0].Arguments["city"] != "London" {
		t.Errorf("expected city London, got %v", resp.ToolCalls[0].Arguments["city"])
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason)
	}
}

func TestOpenAIProvider_ResolveModel_OpenRouterPrefix(t *testing.T) {
	p := NewOpenAIProvider("openrouter", "key", "", "anthropic/claude-sonnet-4-5")

	if got := p.resolveModel(""); got != "anthropic/claude-sonnet-4-5" {
		t.Errorf("expected default model, got %q", got)
	}
	if got := p.resolveModel("unprefixed-model"); got != "anthropic/claude-sonnet-4-5" {
		t.Errorf("expected fallback to default for unprefixed override, got %q", got)
	}
	if got := p.resolveModel("openai/gpt-4o"); got != "openai/gpt-4o" {
		t.Errorf("expected prefixed override honored, got %q", got)
	}
}

func TestOpenAIProvider_BuildRequestBody_OmitsEmptyContentWithToolCalls(t *testing.T) {
	p := NewOpenAIProvider("openai", "key", "", "gpt-4o")

	body := p.buildRequestBody("gpt-4o", ChatRequest{
		Messages: []Message{
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "search", Arguments: map[string]interface{}{"q": "cats"}}}},
		},
	}, false)

	msgs := body["messages"].([]map[string]interface{})
	if _, ok := msgs[0]["content"]; ok {
		t.Error("expected content omitted for assistant message with empty text and tool calls")
	}
	if _, ok := msgs[0]["tool_calls"]; !ok {
		t.Error("expected tool_calls present")
	}
}

func TestOpenAIProvider_BuildRequestBody_StreamOptions(t *testing.T) {
	p := NewOpenAIProvider("openai", "key", "", "gpt-4o")
	body := p.buildRequestBody("gpt-4o", ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}, true)

	if body["stream"] != true {
		t.Error("expected stream=true")
	}
	opts, ok := body["stream_options"].(map[string]interface{})
	if !ok || opts["include_usage"] != true {
		t.Errorf("expected stream_options.include_usage=true, got %v", body["stream_options"])
	}
}

func TestOpenAIProvider_Name(t *testing.T) {
	p := NewOpenAIProvider("groq", "key", "", "model")
	if p.Name() != "groq" {
		t.Errorf("expected name groq, got %q", p.Name())
	}
	if p.DefaultModel() != "model" {
		t.Errorf("expected default model 'model', got %q", p.DefaultModel())
	}
}

func TestOpenAIProvider_WithChatPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIResponse{})
	}))
	defer srv.Close()

	p := NewOpenAIProvider("custom", "key", srv.URL, "model").WithChatPath("/v1/engines/chat")
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if gotPath != "/v1/engines/chat" {
		t.Errorf("expected custom chat path, got %q", gotPath)
	}
}

func TestOpenAIProvider_NewTrimsTrailingSlash(t *testing.T) {
	p := NewOpenAIProvider("openai", "key", "https://example.com/v1/", "model")
	if strings.HasSuffix(p.apiBase, "/") {
		t.Errorf("expected trailing slash trimmed, got %q", p.apiBase)
	}
}
