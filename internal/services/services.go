package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/internal/infrastructure/langchain"
	"github.com/deepgram/colloquy/internal/infrastructure/memory"
	"github.com/deepgram/colloquy/internal/infrastructure/openai"
	"github.com/deepgram/colloquy/internal/infrastructure/postgres"
	"github.com/deepgram/colloquy/internal/infrastructure/redis"
	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/internal/services/contextwindow"
	"github.com/deepgram/colloquy/internal/services/embedding"
	"github.com/deepgram/colloquy/internal/services/provider"
	"github.com/deepgram/colloquy/internal/services/registry"
	"github.com/deepgram/colloquy/internal/services/retrieval"
)

var (
	// Mutex for thread-safe initialization
	servicesMu sync.RWMutex
)

type Services struct {
	chatService      *chat.Service
	retrievalService *retrieval.Service
	registry         *registry.Registry
	redisService     *redis.Service
	database         *postgres.DB
}

// Stores groups the persistence backends the chat engine runs on.
type Stores struct {
	Messages      chat.MessageStore
	Conversations chat.ConversationStore
	Chunks        retrieval.ChunkRepository
}

// MemoryStores keeps everything in process.
func MemoryStores() Stores {
	return Stores{
		Messages:      memory.NewMessageStore(),
		Conversations: memory.NewConversationStore(),
		Chunks:        memory.NewChunkStore(),
	}
}

// InitializeServices builds every service from the chat config and environment.
func InitializeServices(ctx context.Context, cfg *config.ChatConfig) (*Services, error) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	log.Info().Msg("Initializing core services")

	primary, err := NewProvider(ctx, cfg.Primary, cfg.Retrieval.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize primary provider: %w", err)
	}

	var fallback provider.Provider
	if cfg.Fallback.Enabled() {
		fallback, err = NewProvider(ctx, cfg.Fallback, cfg.Retrieval.EmbeddingModel)
		if err != nil {
			log.Error().Err(err).Msg("Fallback provider unavailable - continuing without failover")
			fallback = nil
		}
	}

	s := &Services{registry: registry.New()}

	stores := MemoryStores()
	if url := config.GetDatabaseURL(); url != "" {
		db, err := postgres.Connect(ctx, url, config.GetDatabaseMaxConns())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		s.database = db
		stores = Stores{Messages: db.Messages(), Conversations: db.Conversations(), Chunks: db.Chunks()}
	}

	var retriever chat.Retriever
	if cfg.Retrieval.Enabled {
		embedCfg := config.ProviderConfig{Label: "embeddings"}
		if cfg.Primary.Backend == "openai" {
			embedCfg.APIKey = cfg.Primary.APIKey
			embedCfg.BaseURL = cfg.Primary.BaseURL
		}
		if embedder := openai.NewService(embedCfg, cfg.Retrieval.EmbeddingModel); embedder != nil {
			s.redisService = redis.NewService()
			cached := embedding.NewCachedEmbedder(embedder, embedding.NewStore(s.redisService), cfg.Retrieval.EmbeddingModel, cfg.Retrieval.CacheTTL)
			s.retrievalService = retrieval.NewService(cached, stores.Chunks, cfg.Retrieval.TopK)
			retriever = s.retrievalService
			log.Info().Str("model", cfg.Retrieval.EmbeddingModel).Msg("Retrieval enabled")
		} else {
			log.Warn().Msg("Retrieval disabled - no embedding backend configured")
		}
	}

	s.chatService, err = chat.NewService(ChatConfig(cfg), provider.NewGateway(primary, fallback), stores.Messages, stores.Conversations, retriever, s.registry)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize chat service: %w", err)
	}

	log.Info().Msg("All services initialized successfully")
	return s, nil
}

// NewProvider builds the backend named by cfg.Backend.
func NewProvider(ctx context.Context, cfg config.ProviderConfig, embeddingModel string) (provider.Provider, error) {
	switch cfg.Backend {
	case "openai":
		svc := openai.NewService(cfg, embeddingModel)
		if svc == nil {
			return nil, fmt.Errorf("openai backend %q has no API key", cfg.Label)
		}
		return svc, nil
	default:
		svc, err := langchain.NewService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return svc, nil
	}
}

// ChatConfig maps the loaded configuration onto the orchestrator settings.
func ChatConfig(cfg *config.ChatConfig) chat.Config {
	return chat.Config{
		SystemPrompt: cfg.SystemPrompt,
		Budget: contextwindow.Budget{
			MaxTokens:     cfg.Context.MaxTokens,
			ReserveTokens: cfg.Context.ReserveTokens,
		},
		PrimaryOptions: provider.Options{
			Model:       cfg.Primary.Model,
			Temperature: cfg.Primary.Temperature,
			MaxTokens:   cfg.Primary.MaxTokens,
		},
		FallbackOptions: provider.Options{
			Model:       cfg.Fallback.Model,
			Temperature: cfg.Fallback.Temperature,
			MaxTokens:   cfg.Fallback.MaxTokens,
		},
		RetrievalEnabled: cfg.Retrieval.Enabled,
		TopK:             cfg.Retrieval.TopK,
		TitleEnabled:     cfg.Title.Enabled,
		TitleTimeout:     cfg.Title.Timeout,
	}
}

// NewWithProviders wires services around given providers and stores, for tests
// and embedded use.
func NewWithProviders(cfg chat.Config, primary, fallback provider.Provider, stores Stores, embedder retrieval.Embedder) (*Services, error) {
	s := &Services{registry: registry.New()}

	var retriever chat.Retriever
	if embedder != nil {
		s.retrievalService = retrieval.NewService(embedder, stores.Chunks, cfg.TopK)
		retriever = s.retrievalService
	}

	chatService, err := chat.NewService(cfg, provider.NewGateway(primary, fallback), stores.Messages, stores.Conversations, retriever, s.registry)
	if err != nil {
		return nil, err
	}
	s.chatService = chatService
	return s, nil
}

// GetChatService returns the chat service
func (s *Services) GetChatService() *chat.Service {
	return s.chatService
}

// GetRetrievalService returns nil when retrieval is disabled
func (s *Services) GetRetrievalService() *retrieval.Service {
	return s.retrievalService
}

func (s *Services) GetRegistry() *registry.Registry {
	return s.registry
}

// Shutdown cancels in-flight streams and waits for their cleanup.
func (s *Services) Shutdown(ctx context.Context) error {
	return s.registry.Shutdown(ctx)
}

// Close releases external connections.
func (s *Services) Close() {
	if s.redisService != nil {
		if err := s.redisService.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis connection")
		}
	}
	if s.database != nil {
		s.database.Close()
	}
}
