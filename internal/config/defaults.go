package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Root == "" {
		cfg.Storage.Root = "/usr/local/var/kotae/data/blobs"
	}
	if cfg.Storage.DocumentsPrefix == "" {
		cfg.Storage.DocumentsPrefix = "documents/"
	}
	if cfg.Storage.IndexPrefix == "" {
		cfg.Storage.IndexPrefix = "indexes/"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotae/data/db/documents.db"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Provider.APIKeyEnv == "" {
		cfg.Provider.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Provider.EmbeddingModel == "" {
		cfg.Provider.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.Provider.ChatModel == "" {
		cfg.Provider.ChatModel = "gpt-4o-mini"
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 60
	}
	if cfg.Split.ChunkSize == 0 {
		cfg.Split.ChunkSize = 1000
	}
	if cfg.Split.ChunkOverlap == 0 {
		cfg.Split.ChunkOverlap = 200
	}
	if cfg.Search.Mode == "" {
		cfg.Search.Mode = "diversity"
	}
	if cfg.Search.K == 0 {
		cfg.Search.K = 4
	}
	if cfg.Search.FetchK == 0 {
		cfg.Search.FetchK = 8
	}
}
