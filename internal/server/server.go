// Package server provides the HTTP API for stitch.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/stitch/internal/config"
	"github.com/hyperjump/stitch/internal/indexer"
	"github.com/hyperjump/stitch/internal/models"
	"github.com/hyperjump/stitch/internal/storage"
	"github.com/hyperjump/stitch/internal/vector"
	"github.com/hyperjump/stitch/pkg/utils"
)

// Server is the HTTP server for the stitch API. It owns the mutex that
// serializes every use of the knowledge index, so handlers and the watcher
// can share one index safely.
type Server struct {
	mu       sync.Mutex
	index    *indexer.KnowledgeIndex
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	watching atomic.Bool
}

// NewServer creates a server around index.
func NewServer(index *indexer.KnowledgeIndex, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		index:  index,
		config: cfg,
		logger: utils.OrNop(logger),
	}
}

// Router returns the HTTP handler with all routes registered.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.Timeout(60*time.Second)).Post("/query", s.handleQuery)
		r.Get("/status", s.handleStatus)
		// Rebuilds can run long on a large vault; no timeout.
		r.Post("/index/rebuild", s.handleRebuild)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Rebuild runs BuildIndex under the index mutex.
func (s *Server) Rebuild(ctx context.Context) (*indexer.BuildReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.BuildIndex(ctx)
}

// Query runs a query under the index mutex.
func (s *Server) Query(ctx context.Context, text string, topK int) ([]vector.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Query(ctx, text, topK)
}

// SetWatching records whether a watcher is feeding rebuilds, for status output.
func (s *Server) SetWatching(on bool) {
	s.watching.Store(on)
}

// Status reports the index state and the relevant configuration.
func (s *Server) Status() *models.StatusResponse {
	s.mu.Lock()
	resp := &models.StatusResponse{
		State:       s.index.State().String(),
		Chunks:      s.index.Size(),
		Dimensions:  s.index.Dimensions(),
		Fingerprint: s.index.Fingerprint(),
		Model:       s.index.Model(),
	}
	s.mu.Unlock()

	resp.VaultDir = s.config.Vault.Dir
	resp.StorageBackend = s.config.Storage.Backend
	resp.StorageDir = s.config.StorageDir()
	resp.Watching = s.watching.Load()
	if n, err := storage.DiskUsageBytes(resp.StorageDir); err == nil {
		resp.DiskUsageBytes = n
	} else {
		s.logger.Debug("disk usage unavailable", zap.Error(err))
	}
	return resp
}
