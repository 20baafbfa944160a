package config

import (
	"github.com/deepgram/colloquy/pkg/logger"
)

// GetDatabaseURL returns the Postgres connection string. An empty value
// selects the in-memory stores.
func GetDatabaseURL() string {
	value := GetEnvOrDefault("DATABASE_URL", "")
	if value == "" {
		logger.Warn(logger.CONFIG, "DATABASE_URL not set - falling back to in-memory storage")
	} else {
		logger.Info(logger.CONFIG, "Database URL successfully loaded")
	}
	return value
}

// GetDatabaseMaxConns caps the pgx pool size
func GetDatabaseMaxConns() int {
	return parseEnvInt("DATABASE_MAX_CONNS", 10)
}
