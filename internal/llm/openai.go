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
	opCompletions     = "completions"
	opChatCompletions = "chat/completions"
	opEmbeddings      = "embeddings"
)

type OpenAIConfig struct {
	BaseURL        string
	Token          string
	Model          string
	EmbeddingModel string
	HTTPClient     *http.Client
	Retry          RetryConfig
}

type OpenAIClient struct {
	model          string
	embeddingModel string
	wire           *openAIWire
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("openai base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("openai token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("openai model is required")
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	return &OpenAIClient{
		model:          model,
		embeddingModel: strings.TrimSpace(cfg.EmbeddingModel),
		wire: &openAIWire{
			transport: newTransport("openai", cfg.HTTPClient, cfg.Retry),
			header:    header,
			endpoint: func(op string) string {
				return buildOpenAIEndpoint(baseURL, op)
			},
			sendModel: true,
		},
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req TextRequest) (Response, error) {
	return c.wire.complete(ctx, resolveModel(req.Model, c.model), req)
}

func (c *OpenAIClient) CompleteStream(ctx context.Context, req TextRequest, handle StreamHandler) (Response, error) {
	return c.wire.completeStream(ctx, resolveModel(req.Model, c.model), req, handle)
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	return c.wire.chat(ctx, resolveModel(req.Model, c.model), req)
}

func (c *OpenAIClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (Response, error) {
	return c.wire.chatStream(ctx, resolveModel(req.Model, c.model), req, handle)
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if c.embeddingModel == "" {
		return nil, errors.New("openai embedding model is required")
	}
	return c.wire.embed(ctx, c.embeddingModel, texts)
}

func buildOpenAIEndpoint(baseURL, op string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/" + op
	}
	return base + "/v1/" + op
}

// openAIWire speaks the OpenAI completions wire format. Azure and the
// Hugging Face router reuse it with their own endpoints and auth headers.
type openAIWire struct {
	transport *transport
	header    http.Header
	endpoint  func(op string) string
	// Azure addresses the model through the deployment in the URL.
	sendModel bool
}

func (w *openAIWire) complete(ctx context.Context, model string, req TextRequest) (Response, error) {
	payload := openAITextRequest{
		Model:          w.modelField(model),
		Prompt:         req.Prompt,
		openAISampling: newOpenAISampling(req.Settings),
	}
	var resp openAIResponse
	if err := w.transport.postJSON(ctx, w.endpoint(opCompletions), w.header, payload, &resp); err != nil {
		return Response{}, err
	}
	return resp.toResponse(w.transport.provider, true)
}

func (w *openAIWire) completeStream(ctx context.Context, model string, req TextRequest, handle StreamHandler) (Response, error) {
	payload := openAITextRequest{
		Model:          w.modelField(model),
		Prompt:         req.Prompt,
		openAISampling: newOpenAISampling(req.Settings),
	}
	payload.Stream = true
	return w.stream(ctx, w.endpoint(opCompletions), payload, true, handle)
}

func (w *openAIWire) chat(ctx context.Context, model string, req ChatRequest) (Response, error) {
	payload := openAIChatRequest{
		Model:          w.modelField(model),
		Messages:       req.Messages,
		openAISampling: newOpenAISampling(req.Settings),
	}
	var resp openAIResponse
	if err := w.transport.postJSON(ctx, w.endpoint(opChatCompletions), w.header, payload, &resp); err != nil {
		return Response{}, err
	}
	return resp.toResponse(w.transport.provider, false)
}

func (w *openAIWire) chatStream(ctx context.Context, model string, req ChatRequest, handle StreamHandler) (Response, error) {
	payload := openAIChatRequest{
		Model:          w.modelField(model),
		Messages:       req.Messages,
		openAISampling: newOpenAISampling(req.Settings),
	}
	payload.Stream = true
	return w.stream(ctx, w.endpoint(opChatCompletions), payload, false, handle)
}

func (w *openAIWire) stream(ctx context.Context, endpoint string, payload any, text bool, handle StreamHandler) (Response, error) {
	header := w.header.Clone()
	header.Set("Accept", "text/event-stream")
	httpResp, err := w.transport.post(ctx, endpoint, header, payload)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	provider := w.transport.provider
	collector := newStreamCollector()
	err = readEvents(httpResp.Body, func(event sseEvent) error {
		var chunk openAIResponse
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("%s error: %s", provider, chunk.Error.Message)
		}
		collector.setModel(chunk.Model)
		batch := make([]Chunk, 0, len(chunk.Choices))
		for _, choice := range chunk.Choices {
			delta := choice.Delta.Content
			if text {
				delta = choice.Text
			}
			if delta == "" && choice.FinishReason == "" {
				continue
			}
			batch = append(batch, Chunk{
				Index:        choice.Index,
				Delta:        delta,
				FinishReason: choice.FinishReason,
			})
		}
		return collector.deliver(batch, handle)
	})
	if err != nil {
		return Response{}, err
	}
	return collector.response(), nil
}

func (w *openAIWire) embed(ctx context.Context, model string, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload := openAIEmbeddingRequest{
		Model: w.modelField(model),
		Input: texts,
	}
	var resp openAIEmbeddingResponse
	if err := w.transport.postJSON(ctx, w.endpoint(opEmbeddings), w.header, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s error: %s", w.transport.provider, resp.Error.Message)
	}
	vectors := make([][]float64, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("%s embedding index %d out of range", w.transport.provider, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vector := range vectors {
		if vector == nil {
			return nil, fmt.Errorf("%s returned no embedding for input %d", w.transport.provider, i)
		}
	}
	return vectors, nil
}

func (w *openAIWire) modelField(model string) string {
	if !w.sendModel {
		return ""
	}
	return model
}

// openAISampling is shared between the text and chat payloads. Temperature
// and the penalties are always sent since zero is a valid choice.
type openAISampling struct {
	MaxTokens        int      `json:"max_tokens,omitempty"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p,omitempty"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	N                int      `json:"n"`
	Stop             []string `json:"stop,omitempty"`
	Stream           bool     `json:"stream,omitempty"`
}

func newOpenAISampling(s Settings) openAISampling {
	return openAISampling{
		MaxTokens:        s.MaxTokens,
		Temperature:      s.Temperature,
		TopP:             s.TopP,
		FrequencyPenalty: s.FrequencyPenalty,
		PresencePenalty:  s.PresencePenalty,
		N:                s.responses(),
		Stop:             s.Stop,
	}
}

type openAITextRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	openAISampling
}

type openAIChatRequest struct {
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages"`
	openAISampling
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *openAIUsage   `json:"usage,omitempty"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	Message      Message `json:"message"`
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (r openAIResponse) toResponse(provider string, text bool) (Response, error) {
	if r.Error != nil {
		return Response{}, fmt.Errorf("%s error: %s", provider, r.Error.Message)
	}
	if len(r.Choices) == 0 {
		return Response{}, fmt.Errorf("%s response has no choices", provider)
	}
	completions := make([]Completion, 0, len(r.Choices))
	for _, choice := range r.Choices {
		content := choice.Message.Content
		if text {
			content = choice.Text
		}
		completions = append(completions, Completion{
			Index:        choice.Index,
			Content:      content,
			FinishReason: choice.FinishReason,
		})
	}
	sortCompletions(completions)
	resp := Response{
		Model:       r.Model,
		Completions: completions,
	}
	if r.Usage != nil {
		resp.Usage = Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return resp, nil
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *openAIError `json:"error,omitempty"`
}
