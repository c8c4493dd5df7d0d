package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicChat(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "token" {
			t.Fatalf("missing api key header")
		}
		var req anthropicChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "claude-test" {
			t.Fatalf("unexpected model: %s", req.Model)
		}
		if req.System != "be brief" || len(req.Messages) != 1 {
			t.Fatalf("system prompt not split: %+v", req)
		}
		calls++
		resp := anthropicChatResponse{
			Model: "claude-test",
			Content: []anthropicContent{
				{Type: "text", Text: fmt.Sprintf("hello %d", calls)},
			},
			StopReason: "end_turn",
		}
		resp.Usage.InputTokens = 2
		resp.Usage.OutputTokens = 3
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{
		BaseURL: server.URL,
		Token:   "token",
		Model:   "claude-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	settings := DefaultSettings()
	settings.NumberOfResponses = 2
	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
		Settings: settings,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected one request per response, got %d", calls)
	}
	if got := resp.Texts(); len(got) != 2 || got[0] != "hello 1" || got[1] != "hello 2" {
		t.Fatalf("unexpected content: %q", got)
	}
	if resp.Completions[1].Index != 1 || resp.Completions[1].FinishReason != "end_turn" {
		t.Fatalf("unexpected completion: %+v", resp.Completions[1])
	}
	if resp.Usage.TotalTokens != 10 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestAnthropicChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req anthropicChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if !req.Stream {
			t.Fatalf("expected stream request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		chunks := []string{
			"event: message_start\n" + `data: {"type":"message_start","message":{"model":"claude-test"}}` + "\n\n",
			"event: content_block_delta\n" + `data: {"type":"content_block_delta","delta":{"text":"he"}}` + "\n\n",
			"event: content_block_delta\n" + `data: {"type":"content_block_delta","delta":{"text":"llo"}}` + "\n\n",
			"event: message_delta\n" + `data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}` + "\n\n",
			"event: message_stop\n" + `data: {"type":"message_stop"}` + "\n\n",
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{
		BaseURL: server.URL,
		Token:   "token",
		Model:   "claude-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	settings := DefaultSettings()
	settings.NumberOfResponses = 2
	streamed := map[int]*strings.Builder{0: {}, 1: {}}
	resp, err := client.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Settings: settings,
	}, func(batch []Chunk) error {
		for _, chunk := range batch {
			streamed[chunk.Index].WriteString(chunk.Delta)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if streamed[0].String() != "hello" || streamed[1].String() != "hello" {
		t.Fatalf("unexpected stream content: %q %q", streamed[0].String(), streamed[1].String())
	}
	if len(resp.Completions) != 2 || resp.Completions[1].Content != "hello" {
		t.Fatalf("unexpected response content: %+v", resp.Completions)
	}
	if resp.Completions[0].FinishReason != "end_turn" {
		t.Fatalf("unexpected finish reason: %s", resp.Completions[0].FinishReason)
	}
	if resp.Model != "claude-test" {
		t.Fatalf("unexpected model: %s", resp.Model)
	}
}

func TestAnthropicRejectsHighTemperature(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	client, err := NewAnthropicClient(AnthropicConfig{BaseURL: server.URL, Token: "t", Model: "claude-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	settings := DefaultSettings()
	settings.Temperature = 1.5
	req := ChatRequest{Messages: promptMessages("hi"), Settings: settings}

	if _, err := client.Chat(context.Background(), req); err == nil || !strings.Contains(err.Error(), "temperature") {
		t.Fatalf("expected temperature error, got %v", err)
	}
	if _, err := client.ChatStream(context.Background(), req, nil); err == nil {
		t.Fatalf("expected temperature error from stream")
	}
	if calls != 0 {
		t.Fatalf("request must not reach the api, got %d calls", calls)
	}
}
