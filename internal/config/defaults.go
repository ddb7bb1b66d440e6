package config

// DefaultStorageDirName is the index directory created inside the vault when
// storage.dir is not set.
const DefaultStorageDirName = ".stitch"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Vault.Dir == "" {
		cfg.Vault.Dir = "./vault"
	}
	if cfg.Vault.Extensions == nil {
		cfg.Vault.Extensions = []string{".md"}
	}
	if cfg.Vault.MaxWords == 0 {
		cfg.Vault.MaxWords = 500
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "all-MiniLM-L6-v2"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "./models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.Host == "" {
		cfg.Embedding.Host = "http://localhost:11434"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "files"
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "memory"
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}
	if cfg.Query.MaxTopK == 0 {
		cfg.Query.MaxTopK = 100
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
}
