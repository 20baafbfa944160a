package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/deepgram/colloquy/pkg/logger"
)

const envPrefix = "COLLOQUY_"

// ProviderConfig selects and tunes one language-model backend.
type ProviderConfig struct {
	// Backend is one of openai, googleai, anthropic, ollama or openai-compatible.
	Backend     string  `koanf:"backend"`
	Label       string  `koanf:"label"`
	Model       string  `koanf:"model"`
	APIKey      string  `koanf:"api_key"`
	BaseURL     string  `koanf:"base_url"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// Enabled reports whether a backend was configured at all.
func (p ProviderConfig) Enabled() bool {
	return p.Backend != ""
}

type ContextConfig struct {
	MaxTokens     int `koanf:"max_tokens"`
	ReserveTokens int `koanf:"reserve_tokens"`
}

type RetrievalConfig struct {
	Enabled        bool          `koanf:"enabled"`
	TopK           int           `koanf:"top_k"`
	EmbeddingModel string        `koanf:"embedding_model"`
	CacheTTL       time.Duration `koanf:"cache_ttl"`
}

type TitleConfig struct {
	Enabled bool          `koanf:"enabled"`
	Timeout time.Duration `koanf:"timeout"`
}

// ChatConfig holds everything the streaming chat engine can be tuned with.
type ChatConfig struct {
	SystemPrompt string          `koanf:"system_prompt"`
	Primary      ProviderConfig  `koanf:"primary"`
	Fallback     ProviderConfig  `koanf:"fallback"`
	Context      ContextConfig   `koanf:"context"`
	Retrieval    RetrievalConfig `koanf:"retrieval"`
	Title        TitleConfig     `koanf:"title"`
}

const defaultSystemPrompt = `You are a helpful assistant. Answer clearly and concisely.
When document excerpts are provided, ground your answer in them and mention the source name and page.`

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"system_prompt":             defaultSystemPrompt,
		"primary.backend":           "openai",
		"primary.label":             "primary",
		"primary.model":             "gpt-4o-mini",
		"primary.temperature":       0.7,
		"primary.max_tokens":        1024,
		"fallback.label":            "fallback",
		"fallback.temperature":      0.7,
		"fallback.max_tokens":       1024,
		"context.max_tokens":        8192,
		"context.reserve_tokens":    1024,
		"retrieval.enabled":         true,
		"retrieval.top_k":           5,
		"retrieval.embedding_model": "text-embedding-3-small",
		"retrieval.cache_ttl":       "24h",
		"title.enabled":             true,
		"title.timeout":             "15s",
	}
}

// envKey maps COLLOQUY_PRIMARY__MAX_TOKENS to primary.max_tokens.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// LoadChatConfig layers defaults, an optional TOML file and COLLOQUY_ env vars.
// An empty path tries ./colloquy.toml and $HOME/.colloquy.toml.
func LoadChatConfig(path string) (*ChatConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		logger.Info(logger.CONFIG, "Loaded chat config from %s", path)
	} else {
		for _, candidate := range []string{"./colloquy.toml", "$HOME/.colloquy.toml"} {
			candidate = os.ExpandEnv(candidate)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if err := k.Load(file.Provider(candidate), toml.Parser()); err != nil {
				logger.Warn(logger.CONFIG, "Ignoring unreadable config file %s: %v", candidate, err)
				continue
			}
			logger.Info(logger.CONFIG, "Loaded chat config from %s", candidate)
			break
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	var cfg ChatConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chat config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *ChatConfig) Validate() error {
	if !c.Primary.Enabled() {
		return fmt.Errorf("primary provider backend is required")
	}
	if c.Primary.Model == "" {
		return fmt.Errorf("primary provider model is required")
	}
	if c.Fallback.Enabled() && c.Fallback.Model == "" {
		return fmt.Errorf("fallback provider model is required when a fallback backend is set")
	}
	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("context.max_tokens must be positive")
	}
	if c.Context.ReserveTokens < 0 || c.Context.ReserveTokens >= c.Context.MaxTokens {
		return fmt.Errorf("context.reserve_tokens must be in [0, context.max_tokens)")
	}
	if c.Retrieval.Enabled && c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive")
	}
	return nil
}
