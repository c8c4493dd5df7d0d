package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each collection in one hash named prefix:collection, with
// one JSON-encoded record per field.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Upsert(ctx context.Context, collection string, record Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %q: %w", record.Key, err)
	}
	if err := s.client.HSet(ctx, s.hashKey(collection), record.Key, data).Err(); err != nil {
		return fmt.Errorf("save record %q: %w", record.Key, err)
	}
	return nil
}

func (s *RedisStore) Search(ctx context.Context, collection string, embedding []float64, limit int, minRelevance float64) ([]Match, error) {
	fields, err := s.client.HGetAll(ctx, s.hashKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("load collection %q: %w", collection, err)
	}
	records := make([]Record, 0, len(fields))
	for field, raw := range fields {
		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("unmarshal record %q: %w", field, err)
		}
		records = append(records, record)
	}
	return rank(records, embedding, limit, minRelevance), nil
}

func (s *RedisStore) hashKey(collection string) string {
	if s.prefix == "" {
		return collection
	}
	return s.prefix + ":" + collection
}
