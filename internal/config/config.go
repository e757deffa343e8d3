// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Provider ProviderConfig `yaml:"provider"`
	Split    SplitConfig    `yaml:"split"`
	Search   SearchConfig   `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the blob store root, object key prefixes, the document
// registry database path, and the optional inbox directory watched for PDFs.
type StorageConfig struct {
	Root            string `yaml:"root"`
	DocumentsPrefix string `yaml:"documents_prefix"`
	IndexPrefix     string `yaml:"index_prefix"`
	DatabasePath    string `yaml:"database_path"`
	InboxDir        string `yaml:"inbox_dir"`
}

// ProviderConfig holds the external model API settings. The API key is read
// from the environment variable named by APIKeyEnv, never from the file.
type ProviderConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	EmbeddingModel string `yaml:"embedding_model"`
	ChatModel      string `yaml:"chat_model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SplitConfig holds chunking settings (in characters).
type SplitConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	Mode   string `yaml:"mode"` // "diversity" (MMR) or "similarity"
	K      int    `yaml:"k"`
	FetchK int    `yaml:"fetch_k"`
}

// Load reads and parses the config file at path, applies environment
// overrides, defaults, and path expansion, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Root = expandPath(cfg.Storage.Root, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Storage.InboxDir != "" {
		cfg.Storage.InboxDir = expandPath(cfg.Storage.InboxDir, configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with environment overrides and defaults applied,
// for running without a config file.
func Default() (*Config, error) {
	var cfg Config
	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func Validate(cfg *Config) error {
	if cfg.Split.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", cfg.Split.ChunkSize)
	}
	if cfg.Split.ChunkOverlap < 0 || cfg.Split.ChunkOverlap >= cfg.Split.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got overlap=%d size=%d",
			cfg.Split.ChunkOverlap, cfg.Split.ChunkSize)
	}
	if cfg.Search.Mode != "diversity" && cfg.Search.Mode != "similarity" {
		return fmt.Errorf("search mode must be %q or %q, got %q", "diversity", "similarity", cfg.Search.Mode)
	}
	if cfg.Search.FetchK < cfg.Search.K {
		return fmt.Errorf("fetch_k (%d) must be >= k (%d)", cfg.Search.FetchK, cfg.Search.K)
	}
	return nil
}

// applyEnv overrides config fields from environment variables. Env names
// follow the deployment surface: model ids, chunking, search, and storage
// locations are all overridable without editing the file.
func applyEnv(cfg *Config) {
	setString(&cfg.Provider.BaseURL, "PROVIDER_BASE_URL")
	setString(&cfg.Provider.EmbeddingModel, "EMBEDDING_MODEL_ID")
	setString(&cfg.Provider.ChatModel, "LLM_MODEL_ID")
	setString(&cfg.Storage.Root, "STORAGE_ROOT")
	setString(&cfg.Storage.DocumentsPrefix, "DOCUMENTS_PREFIX")
	setString(&cfg.Storage.IndexPrefix, "INDEX_PREFIX")
	setString(&cfg.Search.Mode, "SEARCH_TYPE")
	setInt(&cfg.Search.K, "SEARCH_K")
	setInt(&cfg.Search.FetchK, "SEARCH_FETCH_K")
	setInt(&cfg.Split.ChunkSize, "CHUNK_SIZE")
	setInt(&cfg.Split.ChunkOverlap, "CHUNK_OVERLAP")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative
// to configDir; other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
