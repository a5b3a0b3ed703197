package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("expected path /messages, got %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("unexpected x-api-key header: %s", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("unexpected anthropic-version header: %s", r.Header.Get("anthropic-version"))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicResponse{
			Content:    []anthropicContentBlock{{Type: "text", Text: "Hello!"}},
			StopReason: "end_turn",
			Usage:      anthropicUsage{InputTokens: 10, OutputTokens: 4},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("expected content 'Hello!', got %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 14 {
		t.Errorf("expected total tokens 14, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider_ChatToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContentBlock{
				{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"London"}`)},
			},
			StopReason: "tool_use",
			Usage:      anthropicUsage{InputTokens: 20, OutputTokens: 8},
		})
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "weather in London"}},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "get_weather" {
		t.Fatalf("unexpected tool calls: %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["city"] != "London" {
		t.Errorf("expected city London, got %v", resp.ToolCalls[0].Arguments["city"])
	}
}

func TestAnthropicProvider_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		events := []struct {
			event string
			data  string
		}{
			{"message_start", `{"message":{"usage":{"input_tokens":12}}}`},
			{"content_block_delta", `{"delta":{"type":"text_delta","text":"Hel"}}`},
			{"content_block_delta", `{"delta":{"type":"text_delta","text":"lo"}}`},
			{"message_delta", `{"delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`},
		}
		for _, ev := range events {
			w.Write([]byte("event: " + ev.event + "\ndata: " + ev.data + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))

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
	if resp.Content != "Hello" {
		t.Errorf("expected content 'Hello', got %q", resp.Content)
	}
	if len(deltas) != 2 {
		t.Errorf("expected 2 deltas, got %d: %v", len(deltas), deltas)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("expected finish reason stop, got %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 3 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total tokens 15, got %d", resp.Usage.TotalTokens)
	}
}

func TestAnthropicProvider_ChatStreamToolUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)

		events := []struct{ event, data string }{
			{"content_block_start", `{"index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`},
			{"content_block_delta", `{"delta":{"type":"input_json_delta","partial_json":"{\"city\""}}`},
			{"content_block_delta", `{"delta":{"type":"input_json_delta","partial_json":":\"London\"}"}}`},
			{"message_delta", `{"delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":5}}`},
		}
		for _, ev := range events {
			w.Write([]byte("event: " + ev.event + "\ndata: " + ev.data + "\n\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	resp, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "weather in London"}},
	}, nil)
	if err != nil {
		t.Fatalf("ChatStream returned error: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Arguments["city"] != "London" {
		t.Errorf("expected city London, got %v", resp.ToolCalls[0].Arguments["city"])
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("expected finish reason tool_calls, got %q", resp.FinishReason)
	}
}

func TestAnthropicProvider_ChatStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte("event: error\ndata: {\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	p := NewAnthropicProvider("test-key", WithAnthropicBaseURL(srv.URL))
	_, err := p.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, nil)
	if err == nil {
		t.Fatal("expected error from stream error event")
	}
}

func TestAnthropicProvider_BuildRequestBody_SystemCacheControl(t *testing.T) {
	p := NewAnthropicProvider("key")
	body := p.buildRequestBody("claude-sonnet-4-5", ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "You are a helpful persona."},
			{Role: "user", Content: "Hi"},
		},
	}, false)

	system, ok := body["system"].([]map[string]interface{})
	if !ok || len(system) != 1 {
		t.Fatalf("expected one system block, got %v", body["system"])
	}
	cc, ok := system[0]["cache_control"].(map[string]interface{})
	if !ok || cc["type"] != "ephemeral" {
		t.Errorf("expected cache_control on last system block, got %v", system[0]["cache_control"])
	}
	if _, topLevel := body["cache_control"]; topLevel {
		t.Error("cache_control must not be a top-level request key")
	}
}

func TestAnthropicProvider_BuildRequestBody_ToolResultMessage(t *testing.T) {
	p := NewAnthropicProvider("key")
	body := p.buildRequestBody("claude-sonnet-4-5", ChatRequest{
		Messages: []Message{
			{Role: "tool", ToolCallID: "toolu_1", Content: "72F and sunny"},
		},
	}, false)

	msgs := body["messages"].([]map[string]interface{})
	if msgs[0]["role"] != "user" {
		t.Errorf("expected tool result wrapped as a user message, got %v", msgs[0]["role"])
	}
	blocks := msgs[0]["content"].([]map[string]interface{})
	if blocks[0]["type"] != "tool_result" || blocks[0]["tool_use_id"] != "toolu_1" {
		t.Errorf("unexpected tool_result block: %+v", blocks[0])
	}
}

func TestAnthropicFinishReason(t *testing.T) {
	cases := map[string]string{
		"tool_use":   "tool_calls",
		"max_tokens": "length",
		"end_turn":   "stop",
		"":           "stop",
	}
	for in, want := range cases {
		if got := anthropicFinishReason(in); got != want {
			t.Errorf("anthropicFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
