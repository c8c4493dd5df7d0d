package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultAnthropicVersion   = "2023-06-01"
	defaultAnthropicMaxTokens = 1024
	maxAnthropicTemperature   = 1
)

type AnthropicConfig struct {
	BaseURL    string
	Token      string
	Model      string
	Version    string
	MaxTokens  int
	HTTPClient *http.Client
	Retry      RetryConfig
}

// AnthropicClient has no server-side notion of multiple responses, so N
// completions are N sequential requests.
type AnthropicClient struct {
	baseURL   string
	model     string
	maxTokens int
	header    http.Header
	transport *transport
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("anthropic base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("anthropic token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("anthropic model is required")
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = defaultAnthropicVersion
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	header := http.Header{}
	header.Set("x-api-key", token)
	header.Set("anthropic-version", version)
	return &AnthropicClient{
		baseURL:   baseURL,
		model:     model,
		maxTokens: maxTokens,
		header:    header,
		transport: newTransport("anthropic", cfg.HTTPClient, cfg.Retry),
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, req TextRequest) (Response, error) {
	return c.Chat(ctx, ChatRequest{Model: req.Model, Messages: promptMessages(req.Prompt), Settings: req.Settings})
}

func (c *AnthropicClient) CompleteStream(ctx context.Context, req TextRequest, handle StreamHandler) (Response, error) {
	return c.ChatStream(ctx, ChatRequest{Model: req.Model, Messages: promptMessages(req.Prompt), Settings: req.Settings}, handle)
}

func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return Response{}, err
	}
	result := Response{}
	for index := 0; index < req.Settings.responses(); index++ {
		var resp anthropicChatResponse
		if err := c.transport.postJSON(ctx, buildAnthropicEndpoint(c.baseURL), c.header, payload, &resp); err != nil {
			return Response{}, err
		}
		if resp.Error != nil {
			return Response{}, fmt.Errorf("anthropic error: %s", resp.Error.Message)
		}
		result.Model = resp.Model
		result.Completions = append(result.Completions, Completion{
			Index:        index,
			Content:      flattenAnthropicContent(resp.Content),
			FinishReason: resp.StopReason,
		})
		result.Usage.PromptTokens += resp.Usage.InputTokens
		result.Usage.CompletionTokens += resp.Usage.OutputTokens
	}
	result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
	return result, nil
}

func (c *AnthropicClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (Response, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return Response{}, err
	}
	payload.Stream = true
	header := c.header.Clone()
	header.Set("Accept", "text/event-stream")

	collector := newStreamCollector()
	for index := 0; index < req.Settings.responses(); index++ {
		if err := c.streamOne(ctx, header, payload, index, collector, handle); err != nil {
			return Response{}, err
		}
	}
	return collector.response(), nil
}

func (c *AnthropicClient) streamOne(ctx context.Context, header http.Header, payload anthropicChatRequest, index int, collector *streamCollector, handle StreamHandler) error {
	httpResp, err := c.transport.post(ctx, buildAnthropicEndpoint(c.baseURL), header, payload)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	return readEvents(httpResp.Body, func(sse sseEvent) error {
		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(sse.Data), &event); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		switch event.Type {
		case "error":
			if event.Error != nil {
				return fmt.Errorf("anthropic error: %s", event.Error.Message)
			}
			return errors.New("anthropic stream error")
		case "message_start":
			if event.Message != nil {
				collector.setModel(event.Message.Model)
			}
		case "message_delta":
			reason := event.StopReason
			if event.Delta != nil && event.Delta.StopReason != "" {
				reason = event.Delta.StopReason
			}
			if reason != "" {
				return collector.deliver([]Chunk{{Index: index, FinishReason: reason}}, handle)
			}
		case "content_block_delta":
			if event.Delta == nil || event.Delta.Text == "" {
				return nil
			}
			return collector.deliver([]Chunk{{Index: index, Delta: event.Delta.Text}}, handle)
		case "message_stop":
			return errStopStream
		}
		return nil
	})
}

// buildPayload rejects temperatures above the Messages API maximum of 1
// before any request is sent.
func (c *AnthropicClient) buildPayload(req ChatRequest) (anthropicChatRequest, error) {
	if req.Settings.Temperature > maxAnthropicTemperature {
		return anthropicChatRequest{}, fmt.Errorf("anthropic temperature must be between 0 and %g, got %g", float64(maxAnthropicTemperature), req.Settings.Temperature)
	}
	messages, system := splitAnthropicMessages(req.Messages)
	maxTokens := req.Settings.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	payload := anthropicChatRequest{
		Model:         resolveModel(req.Model, c.model),
		Messages:      messages,
		System:        system,
		MaxTokens:     maxTokens,
		Temperature:   req.Settings.Temperature,
		StopSequences: req.Settings.Stop,
	}
	if req.Settings.TopP > 0 && req.Settings.TopP < 1 {
		topP := req.Settings.TopP
		payload.TopP = &topP
	}
	return payload, nil
}

func buildAnthropicEndpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/messages"
	}
	return base + "/v1/messages"
}

func splitAnthropicMessages(messages []Message) ([]Message, string) {
	if len(messages) == 0 {
		return messages, ""
	}
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, message := range messages {
		if message.Role == "system" {
			system = append(system, message.Content)
			continue
		}
		rest = append(rest, message)
	}
	return rest, strings.Join(system, "\n\n")
}

func flattenAnthropicContent(blocks []anthropicContent) string {
	if len(blocks) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, block := range blocks {
		if block.Type != "text" {
			continue
		}
		builder.WriteString(block.Text)
	}
	return builder.String()
}

type anthropicChatRequest struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	System        string    `json:"system,omitempty"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   float64   `json:"temperature"`
	TopP          *float64  `json:"top_p,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
	Stream        bool      `json:"stream,omitempty"`
}

type anthropicChatResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *anthropicError `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type anthropicStreamEvent struct {
	Type       string          `json:"type"`
	Message    *anthropicEvent `json:"message,omitempty"`
	Delta      *anthropicDelta `json:"delta,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Error      *anthropicError `json:"error,omitempty"`
}

type anthropicEvent struct {
	Model string `json:"model"`
}

type anthropicDelta struct {
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
}
