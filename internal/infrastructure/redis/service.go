package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/config"
)

type Service struct {
	client *redis.Client
}

// NewService connects to the configured Redis. It returns nil when Redis is
// not configured or unreachable so callers can fall back to memory.
func NewService() *Service {
	return NewServiceWithAddr(config.GetRedisURL(), config.GetRedisPassword())
}

func NewServiceWithAddr(addr, password string) *Service {
	if addr == "" {
		log.Warn().Msg("Redis URL not configured - embedding cache will be kept in memory")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Error().
			Err(err).
			Str("addr", addr).
			Msg("Failed to establish Redis connection")
		client.Close()
		return nil
	}

	log.Info().Str("addr", addr).Msg("Connected to Redis")
	return &Service{client: client}
}

// Set stores a value with an optional expiration
func (s *Service) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := s.client.Set(ctx, key, value, expiration).Err(); err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Dur("expiration", expiration).
			Msg("Redis SET operation failed")
		return err
	}
	return nil
}

// Get returns the stored value and whether the key existed.
func (s *Service) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("key", key).
			Msg("Redis GET operation failed")
		return nil, false, err
	}
	return val, true, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Service) Close() error {
	return s.client.Close()
}
