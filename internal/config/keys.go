package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTAKE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "INTAKE_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "ollama.base_url", typ: kString, env: "INTAKE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "INTAKE_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "INTAKE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.embed_dim", typ: kInt, env: "INTAKE_OLLAMA_EMBED_DIM",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedDim = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedDim },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTAKE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "routing.top_k", typ: kInt, env: "INTAKE_ROUTING_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Routing.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Routing.TopK },
	},
	{
		key: "routing.similarity_threshold", typ: kFloat, env: "INTAKE_ROUTING_SIMILARITY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Routing.SimilarityThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Routing.SimilarityThreshold },
	},
	{
		key: "routing.min_similar", typ: kInt, env: "INTAKE_ROUTING_MIN_SIMILAR",
		apply:   func(cfg *Config, v any) { cfg.Routing.MinSimilar = v.(int) },
		extract: func(cfg Config) any { return cfg.Routing.MinSimilar },
	},
	{
		key: "session.inactivity_timeout", typ: kDuration, env: "INTAKE_SESSION_INACTIVITY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.InactivityTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.InactivityTimeout },
	},
	{
		key: "session.max_duration", typ: kDuration, env: "INTAKE_SESSION_MAX_DURATION",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxDuration = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.MaxDuration },
	},
	{
		key: "session.turn_timeout", typ: kDuration, env: "INTAKE_SESSION_TURN_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.TurnTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.TurnTimeout },
	},
	{
		key: "learning.curate_partial", typ: kBool, env: "INTAKE_LEARNING_CURATE_PARTIAL",
		apply:   func(cfg *Config, v any) { cfg.Learning.CuratePartial = v.(bool) },
		extract: func(cfg Config) any { return cfg.Learning.CuratePartial },
	},
	{
		key: "api.auth_token", typ: kString, env: "INTAKE_API_AUTH_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.API.AuthToken },
	},
	{
		key: "log.level", typ: kString, env: "INTAKE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
