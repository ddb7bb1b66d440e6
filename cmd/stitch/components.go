package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/stitch/internal/config"
	"github.com/hyperjump/stitch/internal/embedding"
	"github.com/hyperjump/stitch/internal/indexer"
	"github.com/hyperjump/stitch/internal/storage"
	"github.com/hyperjump/stitch/internal/vault"
	"github.com/hyperjump/stitch/internal/vector"
)

// Components holds everything a subcommand needs to build or query the index.
type Components struct {
	Config      *config.Config
	Embedder    embedding.Embedder
	Persistence storage.Persistence
	Scanner     *vault.Scanner
	Index       *indexer.KnowledgeIndex
}

// Close releases the embedder and the persistence backend.
func (c *Components) Close() {
	if c.Persistence != nil {
		_ = c.Persistence.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	storageDir := cfg.StorageDir()
	persistence, err := storage.NewPersistence(cfg.Storage.Backend, storageDir)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if db, ok := persistence.(*storage.SQLiteStore); ok && db.Recovered() != "" {
		logger.Warn("persisted index database unreadable, starting empty",
			zap.String("moved_to", db.Recovered()))
	}

	// The storage dir may live inside the vault; never index our own files.
	excludes := append([]string{storageDir}, cfg.Vault.ExcludeDirs...)
	scanner := vault.NewScanner(
		vault.WithLogger(logger),
		vault.WithExtensions(cfg.Vault.Extensions),
		vault.WithExcludeDirs(excludes...),
	)

	indexType := cfg.Vector.IndexType
	idx := indexer.NewKnowledgeIndex(cfg.Vault.Dir, scanner, embedder, persistence,
		indexer.WithLogger(logger),
		indexer.WithMaxWords(cfg.Vault.MaxWords),
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithStoreFactory(func(dimensions int) (vector.Store, error) {
			return vector.NewStore(indexType, dimensions)
		}),
	)

	logger.Info("components initialized",
		zap.String("vault", cfg.Vault.Dir),
		zap.String("model", embedder.ModelInfo()),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("storage_dir", storageDir),
		zap.String("vector_index_type", indexType),
	)

	return &Components{
		Config:      cfg,
		Embedder:    embedder,
		Persistence: persistence,
		Scanner:     scanner,
		Index:       idx,
	}, nil
}
