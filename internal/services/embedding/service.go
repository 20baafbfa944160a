// Package embedding caches embedding vectors in front of a backend embedder.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/infrastructure/redis"
	"github.com/deepgram/colloquy/internal/services/retrieval"
)

const keyPrefix = "colloquy:embedding:"

// CacheStore is the byte store vectors are cached in.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisStore struct {
	redisService *redis.Service
}

func (rs *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return rs.redisService.Get(ctx, key)
}

func (rs *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return rs.redisService.Set(ctx, key, value, ttl)
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (ms *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ms.mu.RLock()
	entry, ok := ms.entries[key]
	ms.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && ms.now().After(entry.expires) {
		ms.mu.Lock()
		delete(ms.entries, key)
		ms.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (ms *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expires = ms.now().Add(ttl)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[key] = entry
	return nil
}

// NewStore picks Redis when it is available and memory otherwise.
func NewStore(redisService *redis.Service) CacheStore {
	if redisService != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := redisService.Ping(ctx); err == nil {
			return &RedisStore{redisService: redisService}
		}
		log.Warn().Msg("Redis unreachable - falling back to in-memory embedding cache")
	}
	return NewMemoryStore()
}

// CachedEmbedder serves repeated texts from the cache. Cache failures are
// logged and fall through to the backend.
type CachedEmbedder struct {
	inner retrieval.Embedder
	store CacheStore
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(inner retrieval.Embedder, store CacheStore, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, store: store, model: model, ttl: ttl}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return keyPrefix + c.model + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	data, ok, err := c.store.Get(ctx, c.key(text))
	if err != nil {
		log.Warn().Err(err).Msg("Embedding cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil {
		log.Warn().Err(err).Msg("Discarding corrupt embedding cache entry")
		return nil, false
	}
	return vector, true
}

func (c *CachedEmbedder) remember(ctx context.Context, text string, vector []float32) {
	data, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, c.key(text), data, c.ttl); err != nil {
		log.Warn().Err(err).Msg("Embedding cache write failed")
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vector, ok := c.lookup(ctx, text); ok {
		return vector, nil
	}

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, text, vector)
	return vector, nil
}

// EmbedBatch only sends cache misses to the backend and keeps input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if vector, ok := c.lookup(ctx, text); ok {
			out[i] = vector
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missing))
	}

	for j, idx := range missingIdx {
		out[idx] = vectors[j]
		c.remember(ctx, missing[j], vectors[j])
	}
	return out, nil
}
