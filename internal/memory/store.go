package memory

import (
	"context"
	"math"
	"sort"
)

type Record struct {
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding"`
}

type Match struct {
	Record    Record
	Relevance float64
}

// Store persists records per collection and searches them by embedding.
type Store interface {
	Upsert(ctx context.Context, collection string, record Record) error
	Search(ctx context.Context, collection string, embedding []float64, limit int, minRelevance float64) ([]Match, error)
}

// rank scores records against the query, drops those below minRelevance and
// returns at most limit matches, best first. Equal scores keep key order.
func rank(records []Record, embedding []float64, limit int, minRelevance float64) []Match {
	matches := make([]Match, 0, len(records))
	for _, record := range records {
		score := cosine(embedding, record.Embedding)
		if score < minRelevance {
			continue
		}
		matches = append(matches, Match{Record: record, Relevance: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Relevance == matches[j].Relevance {
			return matches[i].Record.Key < matches[j].Record.Key
		}
		return matches[i].Relevance > matches[j].Relevance
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// cosine is 0 for mismatched or zero-length vectors.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
