package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every collection in one JSON document on disk so records
// survive between runs. Writes replace the file atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

type fileDocument map[string]map[string]Record

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("memory file path is required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Upsert(_ context.Context, collection string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	records, ok := doc[collection]
	if !ok {
		records = map[string]Record{}
		doc[collection] = records
	}
	records[record.Key] = record
	return s.save(doc)
}

func (s *FileStore) Search(_ context.Context, collection string, embedding []float64, limit int, minRelevance float64) ([]Match, error) {
	s.mu.Lock()
	doc, err := s.load()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(doc[collection]))
	for _, record := range doc[collection] {
		records = append(records, record)
	}
	return rank(records, embedding, limit, minRelevance), nil
}

func (s *FileStore) load() (fileDocument, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileDocument{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	doc := fileDocument{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode memory file %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) save(doc fileDocument) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode memory file: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace memory file: %w", err)
	}
	return nil
}
