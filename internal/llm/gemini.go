package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

type GeminiConfig struct {
	BaseURL    string
	Token      string
	Model      string
	HTTPClient *http.Client
	Retry      RetryConfig
}

type GeminiClient struct {
	baseURL   string
	token     string
	model     string
	transport *transport
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("gemini base url is required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("gemini token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("gemini model is required")
	}
	return &GeminiClient{
		baseURL:   baseURL,
		token:     token,
		model:     model,
		transport: newTransport("gemini", cfg.HTTPClient, cfg.Retry),
	}, nil
}

func (c *GeminiClient) Complete(ctx context.Context, req TextRequest) (Response, error) {
	return c.Chat(ctx, ChatRequest{Model: req.Model, Messages: promptMessages(req.Prompt), Settings: req.Settings})
}

func (c *GeminiClient) CompleteStream(ctx context.Context, req TextRequest, handle StreamHandler) (Response, error) {
	return c.ChatStream(ctx, ChatRequest{Model: req.Model, Messages: promptMessages(req.Prompt), Settings: req.Settings}, handle)
}

func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	endpoint, err := buildGeminiEndpoint(c.baseURL, resolveModel(req.Model, c.model), false)
	if err != nil {
		return Response{}, err
	}
	var resp geminiGenerateContentResponse
	if err := c.transport.postJSON(ctx, endpoint, c.header(), buildGeminiRequest(req), &resp); err != nil {
		return Response{}, err
	}
	if resp.Error != nil {
		return Response{}, fmt.Errorf("gemini error: %s", resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return Response{}, errors.New("gemini response has no candidates")
	}
	completions := make([]Completion, 0, len(resp.Candidates))
	for _, candidate := range resp.Candidates {
		completions = append(completions, Completion{
			Index:        candidate.Index,
			Content:      flattenGeminiContent(candidate.Content),
			FinishReason: candidate.FinishReason,
		})
	}
	sortCompletions(completions)
	result := Response{
		Model:       resp.ModelVersion,
		Completions: completions,
	}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

func (c *GeminiClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (Response, error) {
	endpoint, err := buildGeminiEndpoint(c.baseURL, resolveModel(req.Model, c.model), true)
	if err != nil {
		return Response{}, err
	}
	header := c.header()
	header.Set("Accept", "text/event-stream")
	httpResp, err := c.transport.post(ctx, endpoint, header, buildGeminiRequest(req))
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	collector := newStreamCollector()
	err = readEvents(httpResp.Body, func(event sseEvent) error {
		if !strings.HasPrefix(event.Data, "{") {
			return nil
		}
		var chunk geminiGenerateContentResponse
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("gemini error: %s", chunk.Error.Message)
		}
		collector.setModel(chunk.ModelVersion)
		batch := make([]Chunk, 0, len(chunk.Candidates))
		for _, candidate := range chunk.Candidates {
			delta := flattenGeminiContent(candidate.Content)
			if delta == "" && candidate.FinishReason == "" {
				continue
			}
			batch = append(batch, Chunk{
				Index:        candidate.Index,
				Delta:        delta,
				FinishReason: candidate.FinishReason,
			})
		}
		return collector.deliver(batch, handle)
	})
	if err != nil {
		return Response{}, err
	}
	return collector.response(), nil
}

// header carries the API key; it must never be put in the URL.
func (c *GeminiClient) header() http.Header {
	header := http.Header{}
	header.Set("x-goog-api-key", c.token)
	return header
}

func buildGeminiEndpoint(baseURL, model string, stream bool) (string, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return "", errors.New("gemini base url is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("gemini model is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	apiPath := strings.TrimSuffix(u.Path, "/")
	if !strings.HasSuffix(apiPath, "/v1") && !strings.HasSuffix(apiPath, "/v1beta") {
		apiPath = path.Join(apiPath, "/v1beta")
	}
	verb := "generateContent"
	if stream {
		verb = "streamGenerateContent"
	}
	u.Path = path.Join(apiPath, "models", fmt.Sprintf("%s:%s", model, verb))
	if stream {
		query := u.Query()
		query.Set("alt", "sse")
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func buildGeminiRequest(req ChatRequest) geminiGenerateContentRequest {
	contents, system := buildGeminiContents(req.Messages)
	s := req.Settings
	config := &geminiGenerationConfig{
		CandidateCount:   s.responses(),
		MaxOutputTokens:  s.MaxTokens,
		Temperature:      s.Temperature,
		StopSequences:    s.Stop,
		PresencePenalty:  s.PresencePenalty,
		FrequencyPenalty: s.FrequencyPenalty,
	}
	if s.TopP > 0 {
		topP := s.TopP
		config.TopP = &topP
	}
	return geminiGenerateContentRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig:  config,
	}
}

func buildGeminiContents(messages []Message) ([]geminiContent, *geminiSystemInstruction) {
	if len(messages) == 0 {
		return nil, nil
	}
	var system *geminiSystemInstruction
	start := 0
	if messages[0].Role == "system" {
		system = &geminiSystemInstruction{
			Parts: []geminiPart{{Text: messages[0].Content}},
		}
		start = 1
	}
	contents := make([]geminiContent, 0, len(messages)-start)
	for _, message := range messages[start:] {
		role := message.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: message.Content}},
		})
	}
	return contents, system
}

func flattenGeminiContent(content geminiContent) string {
	if len(content.Parts) == 0 {
		return ""
	}
	var builder strings.Builder
	for _, part := range content.Parts {
		if part.Text == "" {
			continue
		}
		builder.WriteString(part.Text)
	}
	return builder.String()
}

type geminiGenerateContentRequest struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig  `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount   int      `json:"candidateCount,omitempty"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Temperature      float64  `json:"temperature"`
	TopP             *float64 `json:"topP,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	PresencePenalty  float64  `json:"presencePenalty,omitempty"`
	FrequencyPenalty float64  `json:"frequencyPenalty,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	ModelVersion  string            `json:"modelVersion,omitempty"`
	UsageMetadata *geminiUsage      `json:"usageMetadata,omitempty"`
	Error         *geminiError      `json:"error,omitempty"`
}

type geminiCandidate struct {
	Index        int           `json:"index"`
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiError struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}
