package config

import (
	"time"

	"github.com/deepgram/colloquy/pkg/logger"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

func GetRateLimitConfig(key string) RateLimitConfig {
	enabled := GetEnvOrDefault("RATELIMIT_ENABLED", "false") == "true"

	configs := map[string]RateLimitConfig{
		"global": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_GLOBAL", 1000),
			Window:  time.Minute,
		},
		"chat_stream": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_CHAT_STREAM", 30),
			Window:  time.Minute,
		},
		"documents": {
			Enabled: enabled,
			MaxHits: parseEnvInt("RATELIMIT_DOCUMENTS", 20),
			Window:  time.Minute,
		},
	}

	if config, exists := configs[key]; exists {
		return config
	}

	logger.Warn(logger.CONFIG, "No rate limit config found for key: %s", key)
	return RateLimitConfig{Enabled: false}
}
