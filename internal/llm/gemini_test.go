package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGeminiChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-test:generateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "token" {
			t.Fatalf("missing api key header")
		}
		if r.URL.Query().Has("key") {
			t.Fatalf("api key must not be sent in the url: %s", r.URL.RawQuery)
		}
		var req geminiGenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Contents) != 1 || req.Contents[0].Role != "user" {
			t.Fatalf("unexpected contents: %+v", req.Contents)
		}
		if req.GenerationConfig == nil || req.GenerationConfig.CandidateCount != 2 {
			t.Fatalf("unexpected generation config: %+v", req.GenerationConfig)
		}
		resp := geminiGenerateContentResponse{
			ModelVersion: "gemini-test",
			Candidates: []geminiCandidate{
				{
					Index:        1,
					Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "hey"}}},
					FinishReason: "STOP",
				},
				{
					Index:        0,
					Content:      geminiContent{Role: "model", Parts: []geminiPart{{Text: "hello"}}},
					FinishReason: "STOP",
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client, err := NewGeminiClient(GeminiConfig{
		BaseURL: server.URL,
		Token:   "token",
		Model:   "gemini-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	settings := DefaultSettings()
	settings.NumberOfResponses = 2
	resp, err := client.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
		Settings: settings,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := resp.Texts(); len(got) != 2 || got[0] != "hello" || got[1] != "hey" {
		t.Fatalf("unexpected content: %q", got)
	}
	if resp.Completions[0].FinishReason != "STOP" {
		t.Fatalf("unexpected finish reason: %s", resp.Completions[0].FinishReason)
	}
	if resp.Model != "gemini-test" {
		t.Fatalf("unexpected model: %s", resp.Model)
	}
}

func TestGeminiChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-test:streamGenerateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "token" {
			t.Fatalf("missing api key header")
		}
		if r.URL.Query().Has("key") {
			t.Fatalf("api key must not be sent in the url: %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Fatalf("expected sse framing")
		}
		var req geminiGenerateContentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		chunks := []string{
			`data: {"modelVersion":"gemini-test","candidates":[{"index":0,"content":{"role":"model","parts":[{"text":"he"}]}}]}` + "\n\n",
			`data: {"candidates":[{"index":0,"content":{"role":"model","parts":[{"text":"llo"}]},"finishReason":"STOP"}]}` + "\n\n",
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer server.Close()

	client, err := NewGeminiClient(GeminiConfig{
		BaseURL: server.URL,
		Token:   "token",
		Model:   "gemini-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	var streamed strings.Builder
	resp, err := client.ChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}, func(batch []Chunk) error {
		for _, chunk := range batch {
			streamed.WriteString(chunk.Delta)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if streamed.String() != "hello" {
		t.Fatalf("unexpected stream content: %s", streamed.String())
	}
	if len(resp.Completions) != 1 || resp.Completions[0].Content != "hello" {
		t.Fatalf("unexpected response content: %+v", resp.Completions)
	}
	if resp.Completions[0].FinishReason != "STOP" {
		t.Fatalf("unexpected finish reason: %s", resp.Completions[0].FinishReason)
	}
	if resp.Model != "gemini-test" {
		t.Fatalf("unexpected model: %s", resp.Model)
	}
}

func TestGeminiTransportErrorHidesKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client, err := NewGeminiClient(GeminiConfig{
		BaseURL: baseURL,
		Token:   "SECRET-KEY",
		Model:   "gemini-test",
		Retry:   fastRetry(1),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Chat(context.Background(), ChatRequest{Messages: promptMessages("hi")})
	if err == nil {
		t.Fatalf("expected connection error")
	}
	if strings.Contains(err.Error(), "SECRET-KEY") {
		t.Fatalf("error leaks api key: %v", err)
	}
}
