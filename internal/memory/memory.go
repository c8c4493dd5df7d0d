package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"multi-complete/internal/llm"

	"github.com/rs/zerolog"
)

const (
	DefaultCollection = "generic"
	DefaultRelevance  = 0.75
	DefaultLimit      = 1
)

// TextMemory saves texts under a key and recalls the ones closest in meaning
// to a question.
type TextMemory struct {
	store    Store
	embedder llm.Embedder
}

func NewTextMemory(store Store, embedder llm.Embedder) *TextMemory {
	return &TextMemory{store: store, embedder: embedder}
}

type SaveOptions struct {
	Collection string
	Key        string
}

// RecallOptions with zero values use DefaultCollection, DefaultRelevance and
// DefaultLimit.
type RecallOptions struct {
	Collection string
	Relevance  float64
	Limit      int
}

func (m *TextMemory) Save(ctx context.Context, text string, opts SaveOptions) error {
	collection := collectionOrDefault(opts.Collection)
	key := strings.TrimSpace(opts.Key)
	if key == "" {
		return errors.New("memory key is required")
	}
	embedding, err := m.embedOne(ctx, text)
	if err != nil {
		return err
	}
	return m.store.Upsert(ctx, collection, Record{Key: key, Text: text, Embedding: embedding})
}

// Recall returns "" when nothing is relevant enough, the best text when the
// limit is 1, and a JSON array of texts otherwise.
func (m *TextMemory) Recall(ctx context.Context, ask string, opts RecallOptions) (string, error) {
	collection := collectionOrDefault(opts.Collection)
	relevance := opts.Relevance
	if relevance <= 0 {
		relevance = DefaultRelevance
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	embedding, err := m.embedOne(ctx, ask)
	if err != nil {
		return "", err
	}
	matches, err := m.store.Search(ctx, collection, embedding, limit, relevance)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		zerolog.Ctx(ctx).Warn().Str("collection", collection).Msg("memory not found in collection")
		return "", nil
	}
	if limit == 1 {
		return matches[0].Record.Text, nil
	}
	texts := make([]string, len(matches))
	for i, match := range matches {
		texts[i] = match.Record.Text
	}
	data, err := json.Marshal(texts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *TextMemory) embedOne(ctx context.Context, text string) ([]float64, error) {
	vectors, err := m.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed: expected 1 vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

func collectionOrDefault(collection string) string {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return DefaultCollection
	}
	return collection
}
