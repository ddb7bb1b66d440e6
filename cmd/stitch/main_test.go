package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/hyperjump/stitch/internal/models"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"pricing decision", "-top-k", "3"},
			expected: []string{"-top-k", "3", "pricing decision"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "3", "pricing decision"},
			expected: []string{"-top-k", "3", "pricing decision"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"pricing decision"},
			expected: []string{"pricing decision"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "--output", "json"},
			expected: []string{"--output", "json", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"pricing"}, "pricing"},
		{"multiple words", []string{"release", "checklist"}, "release checklist"},
		{"single quoted phrase", []string{"release checklist"}, "release checklist"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	chdir(t, dir)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_defaultsWhenNoConfigExists(t *testing.T) {
	if _, err := os.Stat(defaultConfigPath); err == nil {
		t.Skipf("%s exists on this machine", defaultConfigPath)
	}
	chdir(t, t.TempDir())

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "" {
		t.Errorf("resolved = %q, want empty", resolved)
	}
	if cfg.Query.TopK != 5 || cfg.Storage.Backend != "files" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestLoadConfig_missingExplicitPath(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

// testVault writes a vault and a config using the mock embedder, returning
// the config path and the vault dir.
func testVault(t *testing.T, backend string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	vaultDir := filepath.Join(dir, "vault")
	if err := os.MkdirAll(vaultDir, 0o755); err != nil {
		t.Fatal(err)
	}
	notes := map[string]string{
		"fox.md":     "the quick brown fox jumps over the lazy dog",
		"release.md": "release checklist tag build publish announce",
	}
	for name, text := range notes {
		if err := os.WriteFile(filepath.Join(vaultDir, name), []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	configPath := filepath.Join(dir, "config.yaml")
	content := "vault:\n  dir: " + vaultDir + "\n  max_words: 4\n" +
		"embedding:\n  provider: mock\n  dimensions: 16\n" +
		"storage:\n  backend: " + backend + "\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return configPath, vaultDir
}

func TestRunIndex_RebuildsThenLoads(t *testing.T) {
	for _, backend := range []string{"files", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			configPath, _ := testVault(t, backend)

			var out bytes.Buffer
			if err := runIndex([]string{"--config", configPath}, &out); err != nil {
				t.Fatalf("first index: %v", err)
			}
			if !strings.Contains(out.String(), "rebuilt") || !strings.Contains(out.String(), "persisted:    true") {
				t.Errorf("first index output:\n%s", out.String())
			}

			out.Reset()
			if err := runIndex([]string{"--config", configPath}, &out); err != nil {
				t.Fatalf("second index: %v", err)
			}
			if !strings.Contains(out.String(), "index:        loaded") {
				t.Errorf("second index output:\n%s", out.String())
			}
		})
	}
}

func TestRunIndex_VaultMissing(t *testing.T) {
	configPath, vaultDir := testVault(t, "files")
	if err := os.RemoveAll(vaultDir); err != nil {
		t.Fatal(err)
	}
	if err := runIndex([]string{"--config", configPath}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing vault")
	}
}

func TestRunQuery_Direct(t *testing.T) {
	configPath, _ := testVault(t, "files")

	var out bytes.Buffer
	err := runQuery([]string{"brown", "fox", "--config", configPath, "--output", "json", "--top-k", "2"}, &out)
	if err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	var resp models.QueryResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out.String())
	}
	if resp.Query != "brown fox" || resp.Total != 2 || len(resp.Results) != 2 {
		t.Errorf("response = %+v", resp)
	}
	if resp.Results[0].Score < resp.Results[1].Score {
		t.Errorf("results not ranked: %+v", resp.Results)
	}
}

func TestRunQuery_Prompt(t *testing.T) {
	configPath, _ := testVault(t, "files")

	var out bytes.Buffer
	if err := runQuery([]string{"--config", configPath, "--prompt", "--top-k", "1", "release"}, &out); err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "Context:\n") || !strings.HasSuffix(got, "Question: release\nAnswer:\n") {
		t.Errorf("prompt output:\n%s", got)
	}
}

func TestRunQuery_MissingVaultAnswersWithoutContext(t *testing.T) {
	configPath, vaultDir := testVault(t, "files")
	if err := os.RemoveAll(vaultDir); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := runQuery([]string{"--config", configPath, "--prompt", "release"}, &out); err != nil {
		t.Fatalf("runQuery: %v", err)
	}
	if got := out.String(); got != "Question: release\nAnswer:\n" {
		t.Errorf("prompt output = %q", got)
	}
	if _, err := os.Stat(vaultDir); !os.IsNotExist(err) {
		t.Errorf("vault directory was recreated: %v", err)
	}
}

func TestRunQuery_Errors(t *testing.T) {
	configPath, _ := testVault(t, "files")
	if err := runQuery([]string{"--config", configPath}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for empty query")
	}
	if err := runQuery([]string{"--config", configPath, "--output", "xml", "fox"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown output format")
	}
}

func TestRunStatus_Persisted(t *testing.T) {
	configPath, vaultDir := testVault(t, "files")
	status := func() *models.StatusResponse {
		t.Helper()
		var out bytes.Buffer
		if err := runStatus([]string{"--config", configPath, "--output", "json"}, &out); err != nil {
			t.Fatalf("runStatus: %v", err)
		}
		var s models.StatusResponse
		if err := json.Unmarshal(out.Bytes(), &s); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		return &s
	}

	if s := status(); s.State != stateNone || s.Chunks != 0 {
		t.Errorf("before index: %+v", s)
	}

	if err := runIndex([]string{"--config", configPath}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	s := status()
	if s.State != stateCurrent || s.Chunks == 0 || s.Dimensions != 16 || s.Model != "mock-16" {
		t.Errorf("after index: %+v", s)
	}
	if s.DiskUsageBytes <= 0 {
		t.Errorf("disk usage = %d", s.DiskUsageBytes)
	}

	if err := os.WriteFile(filepath.Join(vaultDir, "new.md"), []byte("fresh note"), 0o644); err != nil {
		t.Fatal(err)
	}
	if s := status(); s.State != stateStale {
		t.Errorf("after vault change: state = %s", s.State)
	}

	var out bytes.Buffer
	if err := runStatus([]string{"--config", configPath}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "state:             stale") {
		t.Errorf("text status:\n%s", out.String())
	}
}

func TestQueryViaHTTP(t *testing.T) {
	var got models.QueryRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.QueryResponse{
			Query:   got.Query,
			Results: []models.ResultItem{{Text: "chunk", Score: 0.9, Rank: 1}},
			Total:   1,
		})
	}))
	defer ts.Close()

	resp, err := queryViaHTTP(ts.URL+"/", &models.QueryRequest{Query: "hello", TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if got.Query != "hello" || got.TopK != 3 {
		t.Errorf("request = %+v", got)
	}
	if resp.Total != 1 || resp.Results[0].Text != "chunk" {
		t.Errorf("response = %+v", resp)
	}
}

func TestQueryViaHTTP_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"vault unavailable"}`))
	}))
	defer ts.Close()

	_, err := queryViaHTTP(ts.URL, &models.QueryRequest{Query: "hello"})
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "vault unavailable") {
		t.Errorf("err = %v", err)
	}
}

func TestStatusViaHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(models.StatusResponse{State: "loaded", Chunks: 7, Watching: true})
	}))
	defer ts.Close()

	s, err := statusViaHTTP(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	if s.State != "loaded" || s.Chunks != 7 || !s.Watching {
		t.Errorf("status = %+v", s)
	}
}
