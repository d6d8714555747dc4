package funnel

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage is the durable/session key-value store the machine writes its
// cached status and session flag to. The machine is the single writer;
// rendering layers only read through snapshots.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// MemStorage is an in-memory Storage for session-scoped state and tests.
type MemStorage struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemStorage creates an empty in-memory store.
func NewMemStorage() *MemStorage {
	return &MemStorage{values: make(map[string]string)}
}

// Get returns the value for key.
func (s *MemStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value.
func (s *MemStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

// Delete removes a key.
func (s *MemStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// FileStorage is a JSON-file-backed Storage that survives reloads of the
// same profile. Writes go through a temp file and rename so a crash never
// leaves a torn cache.
type FileStorage struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// OpenFileStorage loads (or initializes) the store at path.
func OpenFileStorage(path string) (*FileStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	values := make(map[string]string)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &values); err != nil {
			// A corrupt cache is discarded, never trusted.
			values = make(map[string]string)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	return &FileStorage{path: path, values: values}, nil
}

// Get returns the value for key.
func (s *FileStorage) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value and persists the file.
func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flushLocked()
}

// Delete removes a key and persists the file.
func (s *FileStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.flushLocked()
}

func (s *FileStorage) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
