package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/stitch/internal/embedding"
	"github.com/hyperjump/stitch/internal/storage"
	"github.com/hyperjump/stitch/internal/vault"
	"github.com/hyperjump/stitch/internal/vector"
	"github.com/hyperjump/stitch/pkg/utils"
)

// ErrEmbedding wraps failures of the embedder during a rebuild or query.
var ErrEmbedding = errors.New("embedding failed")

// DefaultBatchSize is the number of chunks sent to the embedder per call.
const DefaultBatchSize = 64

// State is the lifecycle state of a KnowledgeIndex.
type State int

const (
	// StateUninitialized means BuildIndex has not completed yet.
	StateUninitialized State = iota
	// StateLoaded means a store is ready to answer queries.
	StateLoaded
	// StateEmpty means the vault produced no chunks or could not be scanned.
	StateEmpty
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateEmpty:
		return "empty"
	default:
		return "uninitialized"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BuildReport describes the outcome of BuildIndex.
type BuildReport struct {
	State       State         `json:"state"`
	Rebuilt     bool          `json:"rebuilt"`
	Persisted   bool          `json:"persisted"`
	Documents   int           `json:"documents"`
	Chunks      int           `json:"chunks"`
	Fingerprint string        `json:"fingerprint"`
	Duration    time.Duration `json:"duration_ns"`
}

// DocumentSource provides the documents of a vault and its fingerprint.
type DocumentSource interface {
	Scan(ctx context.Context, root string) ([]vault.Document, error)
	Fingerprint(ctx context.Context, root string) (vault.Fingerprint, error)
}

// StoreFactory creates an empty vector store of the given dimension.
type StoreFactory func(dimensions int) (vector.Store, error)

// KnowledgeIndex keeps a searchable index of a vault's chunks in sync with
// the vault, reusing the persisted index while the vault is unchanged.
//
// It holds no locks: callers must not use one instance from several
// goroutines at once.
type KnowledgeIndex struct {
	root        string
	source      DocumentSource
	embedder    embedding.Embedder
	persistence storage.Persistence
	chunker     *Chunker
	newStore    StoreFactory
	batchSize   int
	logger      *zap.Logger

	state       State
	store       vector.Store
	fingerprint string
}

// Option configures a KnowledgeIndex.
type Option func(*KnowledgeIndex)

// WithLogger sets the logger. A nil logger is silent.
func WithLogger(l *zap.Logger) Option {
	return func(k *KnowledgeIndex) { k.logger = utils.OrNop(l) }
}

// WithMaxWords sets the chunk size in words.
func WithMaxWords(n int) Option {
	return func(k *KnowledgeIndex) { k.chunker = NewChunker(n) }
}

// WithBatchSize sets how many chunks are embedded per call.
func WithBatchSize(n int) Option {
	return func(k *KnowledgeIndex) {
		if n > 0 {
			k.batchSize = n
		}
	}
}

// WithStoreFactory overrides how vector stores are created.
func WithStoreFactory(f StoreFactory) Option {
	return func(k *KnowledgeIndex) {
		if f != nil {
			k.newStore = f
		}
	}
}

// NewKnowledgeIndex creates an index over the vault at root. Nothing is read
// until BuildIndex is called.
func NewKnowledgeIndex(root string, source DocumentSource, embedder embedding.Embedder, persistence storage.Persistence, opts ...Option) *KnowledgeIndex {
	k := &KnowledgeIndex{
		root:        root,
		source:      source,
		embedder:    embedder,
		persistence: persistence,
		chunker:     NewChunker(DefaultMaxWords),
		batchSize:   DefaultBatchSize,
		logger:      zap.NewNop(),
		newStore: func(dimensions int) (vector.Store, error) {
			return vector.NewStore(string(vector.IndexTypeMemory), dimensions)
		},
		state: StateUninitialized,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// BuildIndex brings the index up to date with the vault. When the persisted
// index matches the vault fingerprint and the embedding model it is loaded;
// otherwise every document is chunked and embedded again and the result is
// persisted.
//
// A scan failure leaves the index Empty and returns an error wrapping
// vault.ErrVaultUnavailable. An embedding failure returns an error wrapping
// ErrEmbedding and leaves both the in-memory and the persisted index as they
// were.
func (k *KnowledgeIndex) BuildIndex(ctx context.Context) (*BuildReport, error) {
	start := time.Now()

	fp, err := k.source.Fingerprint(ctx, k.root)
	if err != nil {
		return k.scanFailed(start, err)
	}
	current := string(fp)

	if snap := k.loadMatching(ctx, current); snap != nil {
		store, err := k.storeFromSnapshot(snap)
		if err == nil {
			k.adopt(store, current)
			k.logger.Info("index loaded",
				zap.Int("chunks", store.Size()),
				zap.Duration("duration", time.Since(start)))
			return &BuildReport{
				State:       StateLoaded,
				Persisted:   true,
				Chunks:      store.Size(),
				Fingerprint: current,
				Duration:    time.Since(start),
			}, nil
		}
		k.logger.Warn("persisted index is unusable, rebuilding", zap.Error(err))
	}

	k.logger.Info("rebuilding index", zap.String("vault", k.root))
	docs, err := k.source.Scan(ctx, k.root)
	if err != nil {
		return k.scanFailed(start, err)
	}

	var chunks []string
	for _, doc := range docs {
		chunks = append(chunks, k.chunker.Chunk(doc.Text)...)
	}
	if len(chunks) == 0 {
		k.state = StateEmpty
		k.store = nil
		k.fingerprint = current
		k.logger.Info("no documents to index", zap.Int("documents", len(docs)))
		return &BuildReport{
			State:       StateEmpty,
			Rebuilt:     true,
			Documents:   len(docs),
			Fingerprint: current,
			Duration:    time.Since(start),
		}, nil
	}

	vectors, err := k.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	store, err := k.newStore(k.embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if err := store.Add(vectors, chunks); err != nil {
		return nil, fmt.Errorf("fill vector store: %w", err)
	}

	persisted := true
	texts, normalized := store.Entries()
	snap := &storage.Snapshot{
		Fingerprint: current,
		Model:       k.embedder.ModelInfo(),
		Dimensions:  store.Dimensions(),
		Texts:       texts,
		Vectors:     normalized,
	}
	if err := k.persistence.Save(ctx, snap); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		persisted = false
		k.logger.Warn("failed to persist index, keeping it in memory only", zap.Error(err))
	}

	k.adopt(store, current)
	report := &BuildReport{
		State:       StateLoaded,
		Rebuilt:     true,
		Persisted:   persisted,
		Documents:   len(docs),
		Chunks:      store.Size(),
		Fingerprint: current,
		Duration:    time.Since(start),
	}
	k.logger.Info("index built",
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Bool("persisted", persisted),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// scanFailed degrades the index to Empty for an unavailable vault. Other
// errors (such as cancellation) leave the state alone.
func (k *KnowledgeIndex) scanFailed(start time.Time, err error) (*BuildReport, error) {
	if !errors.Is(err, vault.ErrVaultUnavailable) {
		return nil, err
	}
	k.logger.Warn("vault scan failed", zap.String("vault", k.root), zap.Error(err))
	k.state = StateEmpty
	k.store = nil
	k.fingerprint = ""
	return &BuildReport{State: StateEmpty, Duration: time.Since(start)}, err
}

// loadMatching returns the persisted snapshot if it was built from the same
// fingerprint with the current embedding model, or nil.
func (k *KnowledgeIndex) loadMatching(ctx context.Context, fingerprint string) *storage.Snapshot {
	if !k.persistence.Exists() {
		k.logger.Debug("no persisted index")
		return nil
	}
	snap, err := k.persistence.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNoIndex):
		k.logger.Debug("no persisted index")
		return nil
	case errors.Is(err, storage.ErrCorrupt):
		k.logger.Warn("persisted index is corrupt, rebuilding", zap.Error(err))
		return nil
	case err != nil:
		k.logger.Warn("failed to load persisted index, rebuilding", zap.Error(err))
		return nil
	}
	if snap.Fingerprint != fingerprint {
		k.logger.Info("changes detected in vault")
		return nil
	}
	if snap.Model != k.embedder.ModelInfo() || snap.Dimensions != k.embedder.Dimensions() {
		k.logger.Info("embedding model changed",
			zap.String("persisted", snap.Model),
			zap.String("configured", k.embedder.ModelInfo()))
		return nil
	}
	if len(snap.Texts) == 0 {
		return nil
	}
	k.logger.Info("no changes detected, loading index")
	return snap
}

func (k *KnowledgeIndex) storeFromSnapshot(snap *storage.Snapshot) (vector.Store, error) {
	store, err := k.newStore(snap.Dimensions)
	if err != nil {
		return nil, err
	}
	if err := store.Add(snap.Vectors, snap.Texts); err != nil {
		return nil, err
	}
	return store, nil
}

// embedChunks embeds chunks in batches, checking ctx between batches.
func (k *KnowledgeIndex) embedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += k.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + k.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch, err := k.embedder.EmbedBatch(ctx, chunks[start:end])
		if err != nil {
			return nil, fmt.Errorf("%w: chunks %d-%d: %w", ErrEmbedding, start, end-1, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbedding, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
		k.logger.Debug("embedded batch", zap.Int("done", end), zap.Int("total", len(chunks)))
	}
	return vectors, nil
}

func (k *KnowledgeIndex) adopt(store vector.Store, fingerprint string) {
	k.store = store
	k.fingerprint = fingerprint
	k.state = StateLoaded
}

// Query returns up to topK chunks ranked by cosine similarity to text.
// Before a successful build, for an empty vault, or when topK <= 0 the
// result is empty.
func (k *KnowledgeIndex) Query(ctx context.Context, text string, topK int) ([]vector.Result, error) {
	if k.state != StateLoaded || k.store == nil || topK <= 0 {
		return []vector.Result{}, nil
	}
	text = Preprocess(text)
	if text == "" {
		return []vector.Result{}, nil
	}
	vec, err := k.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return k.store.Search(utils.Normalized(vec), topK)
}

// State returns the current lifecycle state.
func (k *KnowledgeIndex) State() State {
	return k.state
}

// Size returns the number of indexed chunks.
func (k *KnowledgeIndex) Size() int {
	if k.store == nil {
		return 0
	}
	return k.store.Size()
}

// Dimensions returns the dimension of the loaded store, or 0.
func (k *KnowledgeIndex) Dimensions() int {
	if k.store == nil {
		return 0
	}
	return k.store.Dimensions()
}

// Fingerprint returns the vault fingerprint the index was built from.
func (k *KnowledgeIndex) Fingerprint() string {
	return k.fingerprint
}

// Root returns the vault directory.
func (k *KnowledgeIndex) Root() string {
	return k.root
}

// Model returns the embedder's model identity.
func (k *KnowledgeIndex) Model() string {
	return k.embedder.ModelInfo()
}
