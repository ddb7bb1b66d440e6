// Package vault walks a notes directory, reading eligible documents and
// computing a fingerprint of its current state.
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/stitch/internal/extract"
	"github.com/hyperjump/stitch/pkg/utils"
)

// ErrVaultUnavailable is returned when the vault root is missing or unreadable.
var ErrVaultUnavailable = errors.New("vault unavailable")

// DefaultExtensions is the extension filter used when none is configured.
var DefaultExtensions = []string{".md"}

// Document is one eligible file read from the vault.
type Document struct {
	Path    string // slash-separated, relative to the vault root
	Text    string
	ModTime time.Time
}

// Fingerprint is a hex digest of the vault's (path, mtime) set.
type Fingerprint string

// Scanner enumerates eligible documents under a root directory.
type Scanner struct {
	extensions map[string]struct{}
	exclude    []string
	extractor  *extract.Extractor
	logger     *zap.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger. A nil logger is silent.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scanner) {
		s.logger = utils.OrNop(logger)
	}
}

// WithExtensions sets the extension filter. An empty list accepts every file.
func WithExtensions(exts []string) Option {
	return func(s *Scanner) {
		s.extensions = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			s.extensions[ext] = struct{}{}
		}
	}
}

// WithExcludeDirs skips the given directories and everything below them.
func WithExcludeDirs(dirs ...string) Option {
	return func(s *Scanner) {
		for _, d := range dirs {
			if d == "" {
				continue
			}
			if abs, err := filepath.Abs(d); err == nil {
				d = abs
			}
			s.exclude = append(s.exclude, filepath.Clean(d))
		}
	}
}

// NewScanner returns a Scanner accepting .md files by default.
func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		extractor: extract.NewExtractor(),
		logger:    zap.NewNop(),
	}
	WithExtensions(DefaultExtensions)(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type entry struct {
	abs     string
	rel     string
	modTime time.Time
}

// Scan reads every eligible document under root, sorted by path.
// Files that cannot be read are skipped with a warning.
func (s *Scanner) Scan(ctx context.Context, root string) ([]Document, error) {
	entries, err := s.walk(ctx, root)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := s.extractor.Extract(e.abs)
		if err != nil {
			s.logger.Warn("skipping unreadable document", zap.String("path", e.rel), zap.Error(err))
			continue
		}
		docs = append(docs, Document{Path: e.rel, Text: text, ModTime: e.modTime})
	}
	return docs, nil
}

// Fingerprint hashes the sorted (path, mtime) pairs of eligible files
// without reading their contents.
func (s *Scanner) Fingerprint(ctx context.Context, root string) (Fingerprint, error) {
	entries, err := s.walk(ctx, root)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.rel))
		h.Write([]byte{0})
		h.Write([]byte(strconv.FormatInt(e.modTime.UnixNano(), 10)))
		h.Write([]byte{'\n'})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil))), nil
}

// Eligible reports whether path passes the extension filter and is outside
// every excluded directory. Used by the watcher to ignore irrelevant events.
func (s *Scanner) Eligible(path string) bool {
	if s.Excluded(path) {
		return false
	}
	return s.matchExtension(path)
}

func (s *Scanner) matchExtension(path string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Excluded reports whether path is, or lies beneath, an excluded directory.
func (s *Scanner) Excluded(path string) bool {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	path = filepath.Clean(path)
	for _, dir := range s.exclude {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (s *Scanner) walk(ctx context.Context, root string) ([]entry, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVaultUnavailable, root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVaultUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrVaultUnavailable, root)
	}

	var entries []entry
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == absRoot {
				return fmt.Errorf("%w: %v", ErrVaultUnavailable, walkErr)
			}
			s.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != absRoot && s.Excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.matchExtension(path) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			s.logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{abs: path, rel: filepath.ToSlash(rel), modTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, nil
}
