package config

import "github.com/deepgram/colloquy/pkg/logger"

// GetOpenAIKey returns the OpenAI key used by the openai backend and the embedder
func GetOpenAIKey() string {
	value := GetEnvOrDefault("OPENAI_KEY", "")
	if value == "" {
		logger.Warn(logger.CONFIG, "OPENAI_KEY environment variable not set")
	}
	return value
}
