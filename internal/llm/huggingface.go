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
	defaultHuggingFaceURL     = "https://api-inference.huggingface.co"
	defaultHuggingFaceChatURL = "https://router.huggingface.co/v1"
)

// HuggingFaceConfig targets the serverless Inference API for text generation
// and embeddings, and the OpenAI-compatible router for chat.
type HuggingFaceConfig struct {
	BaseURL        string
	ChatURL        string
	Token          string
	Model          string
	EmbeddingModel string
	HTTPClient     *http.Client
	Retry          RetryConfig
}

type HuggingFaceClient struct {
	baseURL        string
	model          string
	embeddingModel string
	header         http.Header
	transport      *transport
	chatWire       *openAIWire
}

func NewHuggingFaceClient(cfg HuggingFaceConfig) (*HuggingFaceClient, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("huggingface token is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("huggingface model is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultHuggingFaceURL
	}
	chatURL := strings.TrimSpace(cfg.ChatURL)
	if chatURL == "" {
		chatURL = defaultHuggingFaceChatURL
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	tr := newTransport("huggingface", cfg.HTTPClient, cfg.Retry)
	return &HuggingFaceClient{
		baseURL:        baseURL,
		model:          model,
		embeddingModel: strings.TrimSpace(cfg.EmbeddingModel),
		header:         header,
		transport:      tr,
		chatWire: &openAIWire{
			transport: tr,
			header:    header,
			endpoint: func(op string) string {
				return buildOpenAIEndpoint(chatURL, op)
			},
			sendModel: true,
		},
	}, nil
}

func (c *HuggingFaceClient) Complete(ctx context.Context, req TextRequest) (Response, error) {
	model := resolveModel(req.Model, c.model)
	payload := hfTextRequest{
		Inputs:     req.Prompt,
		Parameters: newHFParameters(req.Settings, req.Settings.responses()),
		Options:    hfOptions{WaitForModel: true},
	}
	var resp []hfGeneration
	if err := c.transport.postJSON(ctx, c.modelEndpoint(model), c.header, payload, &resp); err != nil {
		return Response{}, err
	}
	if len(resp) == 0 {
		return Response{}, errors.New("huggingface response has no generations")
	}
	completions := make([]Completion, 0, len(resp))
	for i, generation := range resp {
		completions = append(completions, Completion{
			Index:   i,
			Content: generation.GeneratedText,
		})
	}
	return Response{Model: model, Completions: completions}, nil
}

// CompleteStream issues one streaming request per response slot, one after
// another, since text-generation-inference streams a single sequence.
func (c *HuggingFaceClient) CompleteStream(ctx context.Context, req TextRequest, handle StreamHandler) (Response, error) {
	model := resolveModel(req.Model, c.model)
	header := c.header.Clone()
	header.Set("Accept", "text/event-stream")
	collector := newStreamCollector()
	collector.setModel(model)

	for index := 0; index < req.Settings.responses(); index++ {
		payload := hfTextRequest{
			Inputs:     req.Prompt,
			Parameters: newHFParameters(req.Settings, 1),
			Options:    hfOptions{WaitForModel: true},
			Stream:     true,
		}
		payload.Parameters.Details = true
		if err := c.streamSequence(ctx, model, header, payload, index, collector, handle); err != nil {
			return Response{}, err
		}
	}
	return collector.response(), nil
}

func (c *HuggingFaceClient) streamSequence(ctx context.Context, model string, header http.Header, payload hfTextRequest, index int, collector *streamCollector, handle StreamHandler) error {
	httpResp, err := c.transport.post(ctx, c.modelEndpoint(model), header, payload)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	return readEvents(httpResp.Body, func(event sseEvent) error {
		var chunk hfStreamEvent
		if err := json.Unmarshal([]byte(event.Data), &chunk); err != nil {
			return fmt.Errorf("decode stream chunk: %w", err)
		}
		if message := apiErrorMessage(chunk.Error); message != "" {
			return fmt.Errorf("huggingface error: %s", message)
		}
		out := Chunk{Index: index}
		if chunk.Token != nil && !chunk.Token.Special {
			out.Delta = chunk.Token.Text
		}
		if chunk.Details != nil {
			out.FinishReason = chunk.Details.FinishReason
		}
		if out.Delta == "" && out.FinishReason == "" {
			return nil
		}
		return collector.deliver([]Chunk{out}, handle)
	})
}

func (c *HuggingFaceClient) Chat(ctx context.Context, req ChatRequest) (Response, error) {
	return c.chatWire.chat(ctx, resolveModel(req.Model, c.model), req)
}

func (c *HuggingFaceClient) ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (Response, error) {
	return c.chatWire.chatStream(ctx, resolveModel(req.Model, c.model), req, handle)
}

func (c *HuggingFaceClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if c.embeddingModel == "" {
		return nil, errors.New("huggingface embedding model is required")
	}
	if len(texts) == 0 {
		return nil, nil
	}
	payload := hfEmbeddingRequest{
		Inputs:  texts,
		Options: hfOptions{WaitForModel: true},
	}
	var vectors [][]float64
	if err := c.transport.postJSON(ctx, c.modelEndpoint(c.embeddingModel), c.header, payload, &vectors); err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("huggingface returned %d embeddings for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

func (c *HuggingFaceClient) modelEndpoint(model string) string {
	return c.baseURL + "/models/" + strings.TrimLeft(model, "/")
}

type hfTextRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
	Options    hfOptions    `json:"options"`
	Stream     bool         `json:"stream,omitempty"`
}

// hfParameters only carries temperature and top_p when the Inference API
// accepts them: it rejects a zero temperature and a top_p of 1.
type hfParameters struct {
	MaxNewTokens       int      `json:"max_new_tokens,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	TopP               *float64 `json:"top_p,omitempty"`
	NumReturnSequences int      `json:"num_return_sequences,omitempty"`
	DoSample           bool     `json:"do_sample"`
	ReturnFullText     bool     `json:"return_full_text"`
	Stop               []string `json:"stop,omitempty"`
	Details            bool     `json:"details,omitempty"`
}

// newHFParameters samples whenever more than one response is wanted, even
// when each streamed request asks for a single sequence.
func newHFParameters(s Settings, sequences int) hfParameters {
	params := hfParameters{
		MaxNewTokens: s.MaxTokens,
		DoSample:     s.Temperature > 0 || s.responses() > 1,
		Stop:         s.Stop,
	}
	if sequences > 1 {
		params.NumReturnSequences = sequences
	}
	if s.Temperature > 0 {
		temperature := s.Temperature
		params.Temperature = &temperature
	}
	if s.TopP > 0 && s.TopP < 1 {
		topP := s.TopP
		params.TopP = &topP
	}
	return params
}

type hfOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

type hfGeneration struct {
	GeneratedText string `json:"generated_text"`
}

type hfStreamEvent struct {
	Token *struct {
		ID      int    `json:"id"`
		Text    string `json:"text"`
		Special bool   `json:"special"`
	} `json:"token"`
	Details *struct {
		FinishReason string `json:"finish_reason"`
	} `json:"details"`
	Error json.RawMessage `json:"error,omitempty"`
}

type hfEmbeddingRequest struct {
	Inputs  []string  `json:"inputs"`
	Options hfOptions `json:"options"`
}
