package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"multi-complete/internal/llm/mocks"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var vectors = map[string][]float64{
	"the capital of France is Paris": {1, 0, 0},
	"the capital of Italy is Rome":   {0.9, 0.1, 0},
	"cats purr when content":         {0, 0, 1},
	"what is the capital of France?": {1, 0, 0},
	"what do cats do?":               {0, 0.2, 1},
	"tell me about whales":           {0, 1, 0},
}

func newTestMemory(t *testing.T) (*TextMemory, *VolatileStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	embedder := mocks.NewMockEmbedder(ctrl)
	embedder.EXPECT().Embed(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, texts []string) ([][]float64, error) {
			out := make([][]float64, len(texts))
			for i, text := range texts {
				v, ok := vectors[text]
				if !ok {
					return nil, errors.New("unknown text " + text)
				}
				out[i] = v
			}
			return out, nil
		}).AnyTimes()
	store := NewVolatileStore()
	return NewTextMemory(store, embedder), store
}

func TestSaveUsesDefaultCollection(t *testing.T) {
	mem, store := newTestMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.Save(ctx, "the capital of France is Paris", SaveOptions{Key: "fr"}))

	matches, err := store.Search(ctx, DefaultCollection, []float64{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "fr", matches[0].Record.Key)
}

func TestSaveRequiresKey(t *testing.T) {
	mem, _ := newTestMemory(t)
	err := mem.Save(context.Background(), "the capital of France is Paris", SaveOptions{Key: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key")
}

func TestRecallBestMatch(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, "the capital of France is Paris", SaveOptions{Collection: "geo", Key: "fr"}))
	require.NoError(t, mem.Save(ctx, "the capital of Italy is Rome", SaveOptions{Collection: "geo", Key: "it"}))
	require.NoError(t, mem.Save(ctx, "cats purr when content", SaveOptions{Collection: "geo", Key: "cat"}))

	got, err := mem.Recall(ctx, "what is the capital of France?", RecallOptions{Collection: "geo"})
	require.NoError(t, err)
	assert.Equal(t, "the capital of France is Paris", got)
}

func TestRecallSeveralAsJSON(t *testing.T) {
	mem, _ := newTestMemory(t)
	ctx := context.Background()
	require.NoError(t, mem.Save(ctx, "the capital of France is Paris", SaveOptions{Key: "fr"}))
	require.NoError(t, mem.Save(ctx, "the capital of Italy is Rome", SaveOptions{Key: "it"}))
	require.NoError(t, mem.Save(ctx, "cats purr when content", SaveOptions{Key: "cat"}))

	got, err := mem.Recall(ctx, "what is the capital of France?", RecallOptions{Limit: 3, Relevance: 0.5})
	require.NoError(t, err)
	assert.JSONEq(t, `["the capital of France is Paris","the capital of Italy is Rome"]`, got)
}

func TestRecallNothingRelevantWarns(t *testing.T) {
	mem, _ := newTestMemory(t)
	var logs bytes.Buffer
	ctx := zerolog.New(&logs).WithContext(context.Background())
	require.NoError(t, mem.Save(ctx, "cats purr when content", SaveOptions{Key: "cat"}))

	got, err := mem.Recall(ctx, "tell me about whales", RecallOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), `"collection":"generic"`)
}

func TestRecallPropagatesEmbedError(t *testing.T) {
	mem, _ := newTestMemory(t)
	_, err := mem.Recall(context.Background(), "unseen question", RecallOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed")
}
