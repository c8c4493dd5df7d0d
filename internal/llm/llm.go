package llm

import (
	"context"
	"sort"
	"strings"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextRequest asks a backend to continue a raw prompt.
type TextRequest struct {
	Model    string
	Prompt   string
	Settings Settings
}

type ChatRequest struct {
	Model    string
	Messages []Message
	Settings Settings
}

// Completion is one of the N alternatives returned for a single prompt.
type Completion struct {
	Index        int
	Content      string
	FinishReason string
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response holds every completion for a request, ordered by Index.
type Response struct {
	Model       string
	Completions []Completion
	Usage       Usage
}

// Texts returns the completion contents in index order.
func (r Response) Texts() []string {
	texts := make([]string, len(r.Completions))
	for i, completion := range r.Completions {
		texts[i] = completion.Content
	}
	return texts
}

// Chunk is a partial piece of text for the response slot at Index.
type Chunk struct {
	Index        int
	Delta        string
	FinishReason string
}

// StreamHandler receives the chunks of one inbound event. Returning an error
// aborts the stream.
type StreamHandler func(batch []Chunk) error

//go:generate mockgen -source=llm.go -destination=mocks/mock_llm.go -package=mocks

type Client interface {
	Complete(ctx context.Context, req TextRequest) (Response, error)
	CompleteStream(ctx context.Context, req TextRequest, handle StreamHandler) (Response, error)
	Chat(ctx context.Context, req ChatRequest) (Response, error)
	ChatStream(ctx context.Context, req ChatRequest, handle StreamHandler) (Response, error)
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// streamCollector accumulates chunks into per-slot completions.
type streamCollector struct {
	slots map[int]*Completion
	model string
}

func newStreamCollector() *streamCollector {
	return &streamCollector{slots: make(map[int]*Completion)}
}

func (c *streamCollector) add(batch []Chunk) {
	for _, chunk := range batch {
		slot, ok := c.slots[chunk.Index]
		if !ok {
			slot = &Completion{Index: chunk.Index}
			c.slots[chunk.Index] = slot
		}
		slot.Content += chunk.Delta
		if chunk.FinishReason != "" {
			slot.FinishReason = chunk.FinishReason
		}
	}
}

func (c *streamCollector) setModel(model string) {
	if model != "" {
		c.model = model
	}
}

func (c *streamCollector) response() Response {
	completions := make([]Completion, 0, len(c.slots))
	for _, slot := range c.slots {
		completions = append(completions, *slot)
	}
	sortCompletions(completions)
	return Response{Model: c.model, Completions: completions}
}

// deliver records the batch and forwards it to the handler, skipping empty batches.
func (c *streamCollector) deliver(batch []Chunk, handle StreamHandler) error {
	if len(batch) == 0 {
		return nil
	}
	c.add(batch)
	if handle == nil {
		return nil
	}
	return handle(batch)
}

func sortCompletions(completions []Completion) {
	sort.SliceStable(completions, func(i, j int) bool {
		return completions[i].Index < completions[j].Index
	})
}

func resolveModel(override, fallback string) string {
	if strings.TrimSpace(override) == "" {
		return fallback
	}
	return override
}

func promptMessages(prompt string) []Message {
	return []Message{{Role: "user", Content: prompt}}
}
