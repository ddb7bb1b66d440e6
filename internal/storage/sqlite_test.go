package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestSQLiteStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub", "index.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestSQLiteStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)
	if store.Exists() {
		t.Error("new store should not report an index")
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}

	want := testSnapshot()
	if err := store.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	if !store.Exists() {
		t.Error("Exists should be true after Save")
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshotEqual(t, got, want)

	next := &Snapshot{Fingerprint: "def", Model: "other", Dimensions: 2, Texts: []string{"one"}, Vectors: [][]float32{{0.5, 0.5}}}
	if err := store.Save(ctx, next); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshotEqual(t, got, next)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	store, path := newTestSQLiteStore(t)
	if err := store.Save(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshotEqual(t, got, testSnapshot())
}

func TestSQLiteStore_Corruption(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"short vector", `UPDATE chunk_vectors SET vector = x'010203' WHERE position = 0`},
		{"missing text", `DELETE FROM chunk_texts WHERE position = 1`},
		{"gap in positions", `UPDATE chunk_texts SET position = 5 WHERE position = 1`},
		{"bad dimensions", `UPDATE index_meta SET value = 'x' WHERE key = 'dimensions'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, path := newTestSQLiteStore(t)
			if err := store.Save(ctx, testSnapshot()); err != nil {
				t.Fatal(err)
			}
			db, err := sql.Open(sqliteDriver, path)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := db.Exec(tt.sql); err != nil {
				t.Fatal(err)
			}
			_ = db.Close()
			if _, err := store.Load(ctx); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestSQLiteStore_InvalidSnapshotKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestSQLiteStore(t)
	if err := store.Save(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	bad := &Snapshot{Fingerprint: "x", Dimensions: 2, Texts: []string{"a"}, Vectors: [][]float32{{1, 0, 0}}}
	if err := store.Save(ctx, bad); err == nil {
		t.Fatal("expected error")
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshotEqual(t, got, testSnapshot())
}

func TestSQLiteStore_UnreadableFileMovedAside(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	garbage := bytes.Repeat([]byte("not a database "), 100)
	if err := os.WriteFile(path, garbage, 0644); err != nil {
		t.Fatal(err)
	}

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	if store.Recovered() != path+".corrupt" {
		t.Errorf("Recovered() = %q", store.Recovered())
	}
	moved, err := os.ReadFile(path + ".corrupt")
	if err != nil || string(moved) != string(garbage) {
		t.Errorf("corrupt file not kept: %q, %v", moved, err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}
	if err := store.Save(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	assertSnapshotEqual(t, got, testSnapshot())
}

func TestSQLiteStore_CreatedOnFirstSave(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "missing", "store")
	store, err := NewSQLiteStore(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoIndex) {
		t.Fatalf("expected ErrNoIndex, got %v", err)
	}
	if store.Exists() {
		t.Error("Exists should be false before Save")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("directory created before Save: %v", err)
	}
	if err := store.Save(ctx, testSnapshot()); err != nil {
		t.Fatal(err)
	}
	if !store.Exists() {
		t.Error("Exists should be true after Save")
	}
}

func TestSQLiteStore_CleanOpenNotRecovered(t *testing.T) {
	store, _ := newTestSQLiteStore(t)
	if store.Recovered() != "" {
		t.Errorf("Recovered() = %q, want empty", store.Recovered())
	}
}
