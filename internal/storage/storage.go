// Package storage persists the knowledge index as one atomic group of
// fingerprint, chunk texts and vectors.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

var (
	// ErrNoIndex is returned by Load when no index has ever been saved.
	ErrNoIndex = errors.New("no persisted index")
	// ErrCorrupt is returned by Load when persisted artifacts exist but are
	// unreadable or inconsistent with each other.
	ErrCorrupt = errors.New("persisted index is corrupt")
)

// Backend names accepted by NewPersistence.
const (
	BackendFiles  = "files"
	BackendSQLite = "sqlite"
)

// Snapshot is the persisted form of a knowledge index. Texts[i] belongs to Vectors[i].
type Snapshot struct {
	Fingerprint string
	Model       string
	Dimensions  int
	Texts       []string
	Vectors     [][]float32
}

// Validate checks that the snapshot is internally consistent.
func (s *Snapshot) Validate() error {
	if s.Fingerprint == "" {
		return errors.New("snapshot has no fingerprint")
	}
	if len(s.Texts) != len(s.Vectors) {
		return fmt.Errorf("snapshot has %d texts but %d vectors", len(s.Texts), len(s.Vectors))
	}
	if s.Dimensions <= 0 && len(s.Vectors) > 0 {
		return fmt.Errorf("snapshot dimensions must be positive, got %d", s.Dimensions)
	}
	for i, v := range s.Vectors {
		if len(v) != s.Dimensions {
			return fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), s.Dimensions)
		}
	}
	return nil
}

// Persistence saves and loads index snapshots. Save replaces the previous
// snapshot as a whole: a reader sees either the old group or the new one,
// never a mix.
type Persistence interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
	Exists() bool
	Close() error
}

// NewPersistence opens the backend named by backend rooted at dir.
func NewPersistence(backend, dir string) (Persistence, error) {
	switch backend {
	case BackendFiles, "":
		store, err := NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendSQLite:
		store, err := NewSQLiteStore(filepath.Join(dir, "index.db"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: files, sqlite)", backend)
	}
}
