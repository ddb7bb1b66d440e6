package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/stitch/internal/vault"
)

const testDebounce = 100 * time.Millisecond

type counter struct{ n atomic.Int32 }

func (c *counter) onChange(context.Context) { c.n.Add(1) }

func (c *counter) load() int { return int(c.n.Load()) }

func startWatcher(t *testing.T, root string, filter Filter) (*Watcher, *counter) {
	t.Helper()
	c := &counter{}
	w := NewWatcher(root, filter, c.onChange, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_DebouncesBurstIntoOneCallback(t *testing.T) {
	dir := t.TempDir()
	_, c := startWatcher(t, dir, vault.NewScanner())

	for _, name := range []string{"a.md", "b.md", "c.md"} {
		writeFile(t, filepath.Join(dir, name), "note")
	}
	waitFor(t, func() bool { return c.load() >= 1 })
	time.Sleep(3 * testDebounce)
	if got := c.load(); got != 1 {
		t.Errorf("callbacks = %d, want 1", got)
	}
}

func TestWatcher_IgnoresIneligibleFiles(t *testing.T) {
	dir := t.TempDir()
	_, c := startWatcher(t, dir, vault.NewScanner())

	writeFile(t, filepath.Join(dir, "image.png"), "bytes")
	time.Sleep(4 * testDebounce)
	if got := c.load(); got != 0 {
		t.Errorf("callbacks = %d, want 0", got)
	}
}

func TestWatcher_IgnoresExcludedDirectory(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, ".stitch")
	mkdirAll(t, store)
	w, c := startWatcher(t, dir, vault.NewScanner(vault.WithExcludeDirs(store)))

	for _, d := range w.Directories() {
		if d == store {
			t.Fatalf("excluded directory %s is being watched", store)
		}
	}
	writeFile(t, filepath.Join(store, "notes.md"), "generated")
	time.Sleep(4 * testDebounce)
	if got := c.load(); got != 0 {
		t.Errorf("callbacks = %d, want 0", got)
	}
}

func TestWatcher_RemoveTriggers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.md")
	writeFile(t, path, "bye")
	_, c := startWatcher(t, dir, vault.NewScanner())

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return c.load() == 1 })
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	dir := t.TempDir()
	w, c := startWatcher(t, dir, vault.NewScanner())

	sub := filepath.Join(dir, "projects", "deep")
	mkdirAll(t, sub)
	waitFor(t, func() bool { return len(w.Directories()) >= 2 })
	// let any callback from the directory creation settle
	time.Sleep(3 * testDebounce)
	before := c.load()

	writeFile(t, filepath.Join(sub, "plan.md"), "ship it")
	waitFor(t, func() bool { return c.load() > before })
}

func TestWatcher_MovedInDirectoryWithNotes(t *testing.T) {
	outside := t.TempDir()
	staged := filepath.Join(outside, "inbox")
	mkdirAll(t, staged)
	writeFile(t, filepath.Join(staged, "idea.md"), "idea")

	dir := t.TempDir()
	_, c := startWatcher(t, dir, vault.NewScanner())

	if err := os.Rename(staged, filepath.Join(dir, "inbox")); err != nil {
		t.Skipf("cross-directory rename unsupported: %v", err)
	}
	waitFor(t, func() bool { return c.load() >= 1 })
}

func TestWatcher_StartErrors(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing")
	if err := NewWatcher(missing, nil, nil).Start(context.Background()); err == nil {
		t.Error("expected error for missing root")
	}
	file := filepath.Join(dir, "file.md")
	writeFile(t, file, "x")
	if err := NewWatcher(file, nil, nil).Start(context.Background()); err == nil {
		t.Error("expected error for file root")
	}
}

func TestWatcher_StopCancelsPendingCallback(t *testing.T) {
	dir := t.TempDir()
	c := &counter{}
	w := NewWatcher(dir, nil, c.onChange, WithDebounce(300*time.Millisecond))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "a.md"), "x")
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	w.Stop()
	time.Sleep(500 * time.Millisecond)
	if got := c.load(); got != 0 {
		t.Errorf("callbacks after Stop = %d, want 0", got)
	}
}

func TestWatcher_ContextCancelStops(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	waitFor(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.started
	})
}

func mkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
