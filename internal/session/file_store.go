package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/probeai/orchestrator/internal/metrics"
)

// ErrInvalidID is returned when an id is unsafe to use as a file name.
var ErrInvalidID = errors.New("invalid session id")

// FileStore keeps one JSON document per session under a directory:
//
//	<dir>/<session-id>.json
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = filepath.Join(".data", "sessions")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

func (f *FileStore) Save(_ context.Context, s *ResearchSession) error {
	if s == nil {
		return &PersistenceError{Op: "save", Err: ErrInvalidSession}
	}
	if err := validateID(s.ID); err != nil {
		return &PersistenceError{Op: "save", ID: s.ID, Err: err}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "save", ID: s.ID, Err: fmt.Errorf("marshal session: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Write to a temp file first so readers never see a partial document.
	tmp := f.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		metrics.StoreOperations.WithLabelValues("file", "save", "error").Inc()
		return &PersistenceError{Op: "save", ID: s.ID, Err: err}
	}
	if err := os.Rename(tmp, f.path(s.ID)); err != nil {
		metrics.StoreOperations.WithLabelValues("file", "save", "error").Inc()
		return &PersistenceError{Op: "save", ID: s.ID, Err: err}
	}
	metrics.StoreOperations.WithLabelValues("file", "save", "success").Inc()
	return nil
}

func (f *FileStore) Get(_ context.Context, id string) (*ResearchSession, error) {
	if err := validateID(id); err != nil {
		return nil, ErrSessionNotFound
	}
	f.mu.RLock()
	data, err := os.ReadFile(f.path(id)) // #nosec G304 - id validated above
	f.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get", ID: id, Err: err}
	}
	var s ResearchSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, &PersistenceError{Op: "get", ID: id, Err: fmt.Errorf("%w: %v", ErrInvalidSession, err)}
	}
	return &s, nil
}

func (f *FileStore) List(ctx context.Context) ([]*ResearchSession, error) {
	f.mu.RLock()
	entries, err := os.ReadDir(f.dir)
	f.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}

	out := make([]*ResearchSession, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		s, err := f.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, s)
	}
	SortNewestFirst(out)
	return out, nil
}

func (f *FileStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &PersistenceError{Op: "delete", ID: id, Err: err}
	}
	return nil
}
