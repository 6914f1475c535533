package delta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"lsfleet-agent/internal/model"
)

// Storage persists the one previous CounterSnapshot a node needs.
type Storage interface {
	Load(ctx context.Context) (model.CounterSnapshot, error)
	Save(ctx context.Context, snap model.CounterSnapshot) error
	Close() error
}

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBolt   = "bolt"
)

func OpenStorage(backend, path string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendMemory:
		return NewMemoryStorage(), nil
	case BackendFile, "":
		if strings.TrimSpace(path) == "" {
			return nil, errors.New("file state backend requires a path")
		}
		return NewFileStorage(path), nil
	case BackendBolt:
		return OpenBoltStorage(path)
	default:
		return nil, fmt.Errorf("unsupported state backend %q", backend)
	}
}

type MemoryStorage struct {
	mu   sync.Mutex
	snap model.CounterSnapshot
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(context.Context) (model.CounterSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return model.CounterSnapshot{}, nil
	}
	return m.snap.Clone(), nil
}

func (m *MemoryStorage) Save(_ context.Context, snap model.CounterSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap.Clone()
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

// FileStorage keeps the snapshot as a JSON document on disk.
type FileStorage struct {
	path string
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Load(context.Context) (model.CounterSnapshot, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.CounterSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	snap := model.CounterSnapshot{}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return snap, nil
}

// Save writes to a temp file and renames it so readers never see a torn file.
func (f *FileStorage) Save(_ context.Context, snap model.CounterSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", f.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", f.path, err)
	}
	return nil
}

func (f *FileStorage) Close() error { return nil }
