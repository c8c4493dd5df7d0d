package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAzureChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-35/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-06-01" {
			t.Fatalf("unexpected api version: %s", r.URL.RawQuery)
		}
		if r.Header.Get("api-key") != "secret" {
			t.Fatalf("missing api-key header")
		}
		if r.Header.Get("Authorization") != "" {
			t.Fatalf("unexpected bearer auth")
		}
		var req openAIChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "" {
			t.Fatalf("model should be addressed by deployment, got %s", req.Model)
		}
		if req.N != 2 || req.PresencePenalty != 0.5 {
			t.Fatalf("unexpected sampling: %+v", req.openAISampling)
		}
		_, _ = w.Write([]byte(`{"model":"gpt-35-turbo","choices":[
			{"index":0,"message":{"role":"assistant","content":"a"},"finish_reason":"stop"},
			{"index":1,"message":{"role":"assistant","content":"b"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client, err := NewAzureClient(AzureConfig{
		Endpoint:   server.URL + "/",
		Token:      "secret",
		Deployment: "gpt-35",
		APIVersion: "2024-06-01",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	settings := DefaultSettings()
	settings.NumberOfResponses = 2
	settings.PresencePenalty = 0.5
	resp, err := client.Chat(context.Background(), ChatRequest{Messages: promptMessages("hi"), Settings: settings})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := resp.Texts(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestAzureCompleteStreamUsesDeploymentOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/instruct/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != defaultAzureAPIVersion {
			t.Fatalf("expected default api version, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"choices":[{"index":0,"text":"x"},{"index":1,"text":"y"}]}` + "\n\n" + "data: [DONE]\n\n"))
	}))
	defer server.Close()

	client, err := NewAzureClient(AzureConfig{
		Endpoint:   server.URL,
		Token:      "secret",
		Deployment: "gpt-35",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.CompleteStream(context.Background(), TextRequest{Model: "instruct", Prompt: "p"}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got := resp.Texts(); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestAzureEmbedRequiresDeployment(t *testing.T) {
	client, err := NewAzureClient(AzureConfig{Endpoint: "http://example", Token: "k", Deployment: "d"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatalf("expected error without embedding deployment")
	}
}
