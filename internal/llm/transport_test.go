package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetryOnTemporaryStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: server.URL,
		Token:   "token",
		Model:   "gpt-test",
		Retry:   fastRetry(3),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Chat(context.Background(), ChatRequest{Messages: promptMessages("hi")})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
	if resp.Completions[0].Content != "ok" {
		t.Fatalf("unexpected content: %+v", resp.Completions)
	}
}

func TestRetryGivesUpWithStatusError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: server.URL,
		Token:   "token",
		Model:   "gpt-test",
		Retry:   fastRetry(2),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Chat(context.Background(), ChatRequest{Messages: promptMessages("hi")})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected status error, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable || !statusErr.Temporary() {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{
		BaseURL: server.URL,
		Token:   "token",
		Model:   "gpt-test",
		Retry:   fastRetry(5),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Chat(context.Background(), ChatRequest{Messages: promptMessages("hi")}); err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestStreamHandlerErrorAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`data: {"choices":[{"index":0,"delta":{"content":"a"}}]}` + "\n\n" +
			`data: {"choices":[{"index":0,"delta":{"content":"b"}}]}` + "\n\n"))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL, Token: "token", Model: "gpt-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	stop := errors.New("stop")
	calls := 0
	_, err = client.ChatStream(context.Background(), ChatRequest{Messages: promptMessages("hi")}, func(batch []Chunk) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected stream to stop after first batch, got %d calls", calls)
	}
}

func TestSSEReaderMultilineAndComments(t *testing.T) {
	body := ": keep-alive\n" +
		"event: message\n" +
		"data: first\n" +
		"data: second\r\n" +
		"\n" +
		"data: tail"
	reader := newSSEReader(strings.NewReader(body))

	event, err := reader.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if event.Event != "message" || event.Data != "first\nsecond" {
		t.Fatalf("unexpected event: %+v", event)
	}
	event, err = reader.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if event.Data != "tail" {
		t.Fatalf("unexpected trailing event: %+v", event)
	}
	if _, err := reader.next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadStatusErrorShapes(t *testing.T) {
	cases := map[string]string{
		`{"error":{"message":"nested"}}`: "nested",
		`{"error":"flat"}`:               "flat",
		`not json`:                       "",
		`{}`:                             "",
	}
	for body, want := range cases {
		err := readStatusError("test", strings.NewReader(body), http.StatusBadGateway)
		if err.Message != want {
			t.Fatalf("body %q: got message %q, want %q", body, err.Message, want)
		}
	}
}
