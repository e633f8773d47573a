package config

import (
	"fmt"
)

type Config struct {
	Server    ServerConfig
	Gemini    GeminiConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type GeminiConfig struct {
	BaseURL     string
	Model       string
	EmbedModel  string
	APIKey      string
	TimeoutSecs int
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK         int
	ChunkSize    int
	ChunkOverlap int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Gemini: GeminiConfig{
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Model:       "gemini-1.5-flash",
			EmbedModel:  "embedding-001",
			TimeoutSecs: 30,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Retrieval: RetrievalConfig{
			TopK:         4,
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file and environment
// variables. DOCASSIST_* variables override file values; the Gemini API key
// additionally falls back to GOOGLE_API_KEY. A missing API key is a fatal
// configuration error: the gateways cannot operate without it.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Gemini.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: Gemini API key. " +
			"Set it via environment variable GOOGLE_API_KEY or DOCASSIST_GEMINI_API_KEY")
	}
	if cfg.Retrieval.ChunkOverlap >= cfg.Retrieval.ChunkSize {
		return Config{}, fmt.Errorf("invalid config: chunk overlap %d must be smaller than chunk size %d",
			cfg.Retrieval.ChunkOverlap, cfg.Retrieval.ChunkSize)
	}

	return cfg, nil
}
