package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

const (
	currentFile     = "CURRENT"
	fingerprintFile = "fingerprint"
	chunksFile      = "chunks.json"
	vectorsFile     = "vectors.bin"
	metaFile        = "meta.json"
	generationPref  = "gen-"
)

type fileMeta struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	Count      int    `json:"count"`
}

// FileStore keeps each saved snapshot in its own generation directory.
// The CURRENT file names the live generation and is swapped with a rename,
// so the group of artifacts changes in a single step.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. The directory is created by the
// first Save.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("storage directory is required")
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store's root directory.
func (f *FileStore) Dir() string {
	return f.dir
}

// Save writes snap into a new generation and then points CURRENT at it.
func (f *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	gen := generationPref + uuid.NewString()
	genDir := filepath.Join(f.dir, gen)
	if err := os.MkdirAll(genDir, 0755); err != nil {
		return fmt.Errorf("failed to create generation: %w", err)
	}
	if err := f.writeGeneration(ctx, genDir, snap); err != nil {
		_ = os.RemoveAll(genDir)
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = os.RemoveAll(genDir)
		return err
	}
	if err := writeFileAtomic(filepath.Join(f.dir, currentFile), []byte(gen+"\n")); err != nil {
		_ = os.RemoveAll(genDir)
		return fmt.Errorf("failed to switch current generation: %w", err)
	}
	if err := syncDir(f.dir); err != nil {
		return fmt.Errorf("failed to sync storage directory: %w", err)
	}
	f.removeStale(gen)
	return nil
}

func (f *FileStore) writeGeneration(ctx context.Context, genDir string, snap *Snapshot) error {
	texts := snap.Texts
	if texts == nil {
		texts = []string{}
	}
	chunks, err := json.Marshal(texts)
	if err != nil {
		return fmt.Errorf("failed to marshal chunks: %w", err)
	}
	meta, err := json.Marshal(fileMeta{Model: snap.Model, Dimensions: snap.Dimensions, Count: len(texts)})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{chunksFile, chunks},
		{vectorsFile, encodeVectors(snap.Vectors, snap.Dimensions)},
		{metaFile, meta},
		{fingerprintFile, []byte(snap.Fingerprint)},
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writeFileSynced(filepath.Join(genDir, file.name), file.data); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.name, err)
		}
	}
	return nil
}

// removeStale deletes every generation other than keep. Failures only leave
// garbage behind; the live generation is already switched.
func (f *FileStore) removeStale(keep string) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), generationPref) && e.Name() != keep {
			_ = os.RemoveAll(filepath.Join(f.dir, e.Name()))
		}
	}
}

// Load reads the generation named by CURRENT.
func (f *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	gen, err := f.currentGeneration()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	genDir := filepath.Join(f.dir, gen)
	read := func(name string) ([]byte, error) {
		data, err := os.ReadFile(filepath.Join(genDir, name))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
		}
		return data, nil
	}

	fp, err := read(fingerprintFile)
	if err != nil {
		return nil, err
	}
	metaData, err := read(metaFile)
	if err != nil {
		return nil, err
	}
	var meta fileMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, metaFile, err)
	}
	chunkData, err := read(chunksFile)
	if err != nil {
		return nil, err
	}
	var texts []string
	if err := json.Unmarshal(chunkData, &texts); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, chunksFile, err)
	}
	if len(texts) != meta.Count {
		return nil, fmt.Errorf("%w: %d chunk texts, metadata says %d", ErrCorrupt, len(texts), meta.Count)
	}
	vecData, err := read(vectorsFile)
	if err != nil {
		return nil, err
	}
	vectors, err := decodeVectors(vecData, meta.Count, meta.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	snap := &Snapshot{
		Fingerprint: strings.TrimSpace(string(fp)),
		Model:       meta.Model,
		Dimensions:  meta.Dimensions,
		Texts:       texts,
		Vectors:     vectors,
	}
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return snap, nil
}

func (f *FileStore) currentGeneration() (string, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, currentFile))
	if os.IsNotExist(err) {
		return "", ErrNoIndex
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrCorrupt, currentFile, err)
	}
	gen := strings.TrimSpace(string(data))
	if !strings.HasPrefix(gen, generationPref) || strings.ContainsAny(gen, `/\`) {
		return "", fmt.Errorf("%w: invalid generation %q", ErrCorrupt, gen)
	}
	return gen, nil
}

// Exists reports whether a snapshot has been saved.
func (f *FileStore) Exists() bool {
	_, err := os.Stat(filepath.Join(f.dir, currentFile))
	return err == nil
}

// Close is a no-op.
func (f *FileStore) Close() error {
	return nil
}

func writeFileSynced(path string, data []byte) error {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := fh.Write(data); err != nil {
		_ = fh.Close()
		return err
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// writeFileAtomic writes data to a temp file next to path and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// syncDir flushes a directory entry change such as a rename to disk.
// Windows cannot sync directory handles, so it is a no-op there.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

var _ Persistence = (*FileStore)(nil)
