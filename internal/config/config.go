package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Anki      AnkiConfig
	Storage   StorageConfig
	History   HistoryConfig
	Retrieval RetrievalConfig
	Ingest    IngestConfig
	Generate  GenerateConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// Token, when set, is required as a bearer token on the HTTP API.
	Token string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
}

type AnkiConfig struct {
	URL string
	// Hosted marks a deployment away from the user's desktop, which changes
	// connectivity diagnostics for loopback URLs.
	Hosted      bool
	Timeout     string
	DefaultDeck string
}

// SingleTimeout parses Timeout, falling back to 5s when it is unset or
// invalid.
func (a AnkiConfig) SingleTimeout() time.Duration {
	if d, err := time.ParseDuration(a.Timeout); err == nil && d > 0 {
		return d
	}
	return 5 * time.Second
}

type StorageConfig struct {
	DataDir string
}

type HistoryConfig struct {
	Dir string
}

type RetrievalConfig struct {
	TopK int
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type GenerateConfig struct {
	Temperature float64
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
			ChatModel:  "llama3.2",
		},
		Anki: AnkiConfig{
			URL:         "http://localhost:8765",
			Timeout:     "5s",
			DefaultDeck: "Default",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		History: HistoryConfig{
			Dir: filepath.Join(dataDir, "history"),
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Generate: GenerateConfig{
			Temperature: 0.3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/cardsmith/config.json, then applies environment
// overrides (CARDSMITH_*). Missing keys keep their defaults.
//
// history.dir defaults to <storage.data_dir>/history and follows
// storage.data_dir when only the latter is changed.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	defaultHistory := cfg.History.Dir

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.History.Dir == defaultHistory {
		cfg.History.Dir = filepath.Join(cfg.Storage.DataDir, "history")
	}
	return cfg, nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "cardsmith-data"
		}
	}
	return filepath.Join(dir, "cardsmith")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "cardsmith", "config.json")
}
