// Package main is the stitch CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/stitch/internal/cli"
	"github.com/hyperjump/stitch/internal/config"
	"github.com/hyperjump/stitch/internal/models"
	"github.com/hyperjump/stitch/internal/server"
	"github.com/hyperjump/stitch/internal/storage"
	"github.com/hyperjump/stitch/internal/vault"
	"github.com/hyperjump/stitch/internal/watcher"
	"github.com/hyperjump/stitch/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/stitch/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present; when neither exists the built-in
// defaults are used. Returns the config and the path that was loaded ("" for
// defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// commonFlags are accepted by every subcommand that touches the index.
type commonFlags struct {
	configPath *string
	vaultDir   *string
	debug      *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		vaultDir:   fs.String("vault", "", "vault directory (overrides vault.dir)"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// setup loads config, applies flag overrides and creates the logger.
func (f commonFlags) setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(*f.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *f.vaultDir != "" {
		abs, err := filepath.Abs(*f.vaultDir)
		if err != nil {
			return nil, nil, err
		}
		cfg.Vault.Dir = abs
	}
	debugMode := cfg.Debug || *f.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("vault", cfg.Vault.Dir),
		zap.Bool("debug", debugMode),
	)
	return cfg, logger, nil
}

func main() {
	// A missing .env is fine; secrets may come from the real environment.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}
	var err error
	switch command := os.Args[1]; command {
	case "index":
		err = runIndex(os.Args[2:], os.Stdout)
	case "query":
		err = runQuery(os.Args[2:], os.Stdout)
	case "serve", "server":
		err = runServe(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:], os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("stitch version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runIndex(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	common := addCommonFlags(fs)
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	report, err := components.Index.BuildIndex(ctx)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if *outputFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	action := "loaded"
	if report.Rebuilt {
		action = "rebuilt"
	}
	fmt.Fprintf(out, "state:        %s\n", report.State)
	fmt.Fprintf(out, "index:        %s\n", action)
	fmt.Fprintf(out, "chunks:       %d\n", report.Chunks)
	if report.Rebuilt {
		fmt.Fprintf(out, "documents:    %d\n", report.Documents)
		fmt.Fprintf(out, "persisted:    %t\n", report.Persisted)
	}
	fmt.Fprintf(out, "fingerprint:  %s\n", report.Fingerprint)
	fmt.Fprintf(out, "took:         %s\n", report.Duration.Round(time.Millisecond))
	return nil
}

// printQueryUsage prints query subcommand usage.
func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: stitch query [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  stitch query what did we decide about pricing
  stitch query --top-k 3 --output json "release checklist"
  stitch query --prompt how do I rotate the keys      # print an LLM-ready prompt
  stitch query --server http://localhost:8080 onboarding
`)
}

// buildQuery joins positional args so multi-word questions work with or
// without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the question to the front so
// flag.Parse sees them; the flag package stops at the first positional arg.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", "", "server URL (empty = open the index directly)")
	topK := fs.Int("top-k", 0, "number of results (default from query.top_k)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	prompt := fs.Bool("prompt", false, "print the assembled prompt instead of the results")
	fs.Usage = func() { printQueryUsage(fs) }
	if err := fs.Parse(argsReorder(args)); err != nil {
		return err
	}

	question := buildQuery(fs.Args())
	if question == "" {
		printQueryUsage(fs)
		return errors.New("query text is required")
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	var response *models.QueryResponse
	if *serverURL != "" {
		response, err = queryViaHTTP(*serverURL, &models.QueryRequest{Query: question, TopK: *topK})
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
	} else {
		response, err = queryDirect(common, question, *topK)
		if err != nil {
			return err
		}
	}

	if *prompt {
		_, err := fmt.Fprintln(out, cli.FormatPrompt(question, response.Results))
		return err
	}
	return cli.WriteResults(out, response, format)
}

func queryDirect(common commonFlags, question string, topK int) (*models.QueryResponse, error) {
	cfg, logger, err := common.setup()
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	req := &models.QueryRequest{Query: question, TopK: topK}
	if err := req.Validate(cfg.Query.TopK, cfg.Query.MaxTopK); err != nil {
		return nil, err
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if _, err := components.Index.BuildIndex(ctx); err != nil {
		if !errors.Is(err, vault.ErrVaultUnavailable) {
			return nil, fmt.Errorf("build index: %w", err)
		}
		logger.Warn("vault unavailable, answering without context", zap.Error(err))
	}
	start := time.Now()
	results, err := components.Index.Query(ctx, req.Query, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return models.NewQueryResponse(req.Query, results, time.Since(start).Milliseconds()), nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	common := addCommonFlags(fs)
	watch := fs.Bool("watch", false, "rebuild the index when the vault changes (also watch.enabled)")
	port := fs.Int("port", 0, "listen port (overrides server.port)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := common.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *port > 0 {
		cfg.Server.Port = *port
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(components.Index, cfg, logger)
	if report, err := srv.Rebuild(ctx); err != nil {
		// Serving an empty index is still useful; a rebuild can be requested later.
		logger.Warn("initial index build failed", zap.Error(err))
	} else {
		logger.Info("index ready",
			zap.Stringer("state", report.State),
			zap.Int("chunks", report.Chunks),
			zap.Bool("rebuilt", report.Rebuilt))
	}

	if cfg.Watch.Enabled || *watch {
		w := watcher.NewWatcher(cfg.Vault.Dir, components.Scanner, func(ctx context.Context) {
			report, err := srv.Rebuild(ctx)
			if err != nil {
				logger.Warn("rebuild after change failed", zap.Error(err))
				return
			}
			logger.Info("index refreshed",
				zap.Stringer("state", report.State),
				zap.Int("chunks", report.Chunks),
				zap.Bool("rebuilt", report.Rebuilt))
		}, watcher.WithLogger(logger), watcher.WithDebounce(cfg.Watch.Debounce()))
		if err := w.Start(ctx); err != nil {
			logger.Warn("watcher not started", zap.Error(err))
		} else {
			srv.SetWatching(true)
			defer w.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	common := addCommonFlags(fs)
	serverURL := fs.String("server", "", "server URL (empty = read the persisted index directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var status *models.StatusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		status = res
	} else {
		cfg, logger, err := common.setup()
		if err != nil {
			return err
		}
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			return err
		}
		defer components.Close()
		status = persistedStatus(context.Background(), components)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	case "text":
		writeStatusText(out, status)
		return nil
	default:
		return fmt.Errorf("unknown output format %q; use text or json", *outputFormat)
	}
}

// Offline states reported by status when no server is running.
const (
	stateNone    = "none"
	stateCorrupt = "corrupt"
	stateCurrent = "current"
	stateStale   = "stale"
)

// persistedStatus describes the persisted index without building anything:
// whether one exists and whether it still matches the vault.
func persistedStatus(ctx context.Context, c *Components) *models.StatusResponse {
	cfg := c.Config
	status := &models.StatusResponse{
		State:          stateNone,
		VaultDir:       cfg.Vault.Dir,
		StorageBackend: cfg.Storage.Backend,
		StorageDir:     cfg.StorageDir(),
	}
	if n, err := storage.DiskUsageBytes(status.StorageDir); err == nil {
		status.DiskUsageBytes = n
	}

	snap, err := c.Persistence.Load(ctx)
	switch {
	case errors.Is(err, storage.ErrNoIndex):
		return status
	case err != nil:
		status.State = stateCorrupt
		return status
	}
	status.Chunks = len(snap.Texts)
	status.Dimensions = snap.Dimensions
	status.Fingerprint = snap.Fingerprint
	status.Model = snap.Model

	status.State = stateStale
	if fp, err := c.Scanner.Fingerprint(ctx, cfg.Vault.Dir); err == nil && string(fp) == snap.Fingerprint {
		status.State = stateCurrent
	}
	return status
}

func writeStatusText(w io.Writer, s *models.StatusResponse) {
	fmt.Fprintf(w, "state:             %s\n", s.State)
	fmt.Fprintf(w, "chunks:            %d\n", s.Chunks)
	if s.Dimensions > 0 {
		fmt.Fprintf(w, "dimensions:        %d\n", s.Dimensions)
	}
	if s.Model != "" {
		fmt.Fprintf(w, "model:             %s\n", s.Model)
	}
	if s.Fingerprint != "" {
		fmt.Fprintf(w, "fingerprint:       %s\n", s.Fingerprint)
	}
	fmt.Fprintf(w, "disk_usage_bytes:  %d\n", s.DiskUsageBytes)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "vault_dir:         %s\n", s.VaultDir)
	fmt.Fprintf(w, "storage_backend:   %s\n", s.StorageBackend)
	fmt.Fprintf(w, "storage_dir:       %s\n", s.StorageDir)
	fmt.Fprintf(w, "watching:          %t\n", s.Watching)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `stitch - Searchable knowledge index over a personal vault

Usage:
  stitch index [flags]             Build the index, reusing it if the vault is unchanged
  stitch query [flags] <question>  Retrieve the chunks most relevant to a question
  stitch serve [flags]             Start the HTTP API
  stitch status [flags]            Show index and storage status
  stitch version                   Show version
  stitch help                      Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/stitch/config.yaml, or ./config.yaml)
  --vault string     Vault directory (overrides vault.dir)
  --debug            Enable debug logging

Query Flags:
  --server string    Server URL; empty opens the index directly (default: "")
  --top-k int        Number of results (default from query.top_k)
  --output string    Output format: text, compact, or json (default: text)
  --prompt           Print an LLM-ready prompt built from the results

Serve Flags:
  --watch            Rebuild the index when the vault changes
  --port int         Listen port (overrides server.port)

Status Flags:
  --server string    Server URL; empty reads the persisted index (default: "")
  --output string    Output format: text or json (default: text)

Examples:
  stitch index --vault ~/notes
  stitch query what did we decide about pricing
  stitch query --output json --top-k 3 "release checklist"
  stitch serve --watch
  stitch status --output json`)
}
