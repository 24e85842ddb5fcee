package config

import "time"

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Routing  RoutingConfig
	Session  SessionConfig
	Learning LearningConfig
	API      APIConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
	EmbedDim   int
}

type StorageConfig struct {
	DataDir string
}

type RoutingConfig struct {
	TopK                int
	SimilarityThreshold float64
	MinSimilar          int
}

type SessionConfig struct {
	InactivityTimeout time.Duration
	MaxDuration       time.Duration
	TurnTimeout       time.Duration
}

type LearningConfig struct {
	CuratePartial bool
}

type APIConfig struct {
	AuthToken string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
			EmbedDim:   768,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Routing: RoutingConfig{
			TopK:                5,
			SimilarityThreshold: 0.75,
			MinSimilar:          3,
		},
		Session: SessionConfig{
			InactivityTimeout: 2 * time.Minute,
			MaxDuration:       30 * time.Minute,
			TurnTimeout:       30 * time.Second,
		},
		Learning: LearningConfig{
			CuratePartial: false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/intake/config.json, then applies INTAKE_* environment
// variable overrides. Secrets (the API auth token) come from the
// environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
