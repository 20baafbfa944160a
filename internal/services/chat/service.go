// Package chat drives a streamed assistant reply from request to persisted
// message, failing over to a secondary provider when the primary is rate limited.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/contextwindow"
	"github.com/deepgram/colloquy/internal/services/provider"
	"github.com/deepgram/colloquy/internal/services/registry"
)

// Config tunes the orchestration. Zero durations fall back to defaults.
type Config struct {
	SystemPrompt     string
	Budget           contextwindow.Budget
	PrimaryOptions   provider.Options
	FallbackOptions  provider.Options
	RetrievalEnabled bool
	TopK             int
	TitleEnabled     bool
	TitleTimeout     time.Duration
	CleanupTimeout   time.Duration
}

const (
	defaultTitleTimeout   = 15 * time.Second
	defaultCleanupTimeout = 10 * time.Second
)

type Service struct {
	cfg           Config
	gateway       *provider.Gateway
	messages      MessageStore
	conversations ConversationStore
	retriever     Retriever
	registry      *registry.Registry
	validate      *validator.Validate
}

// NewService wires the orchestrator. retriever may be nil to disable retrieval.
func NewService(cfg Config, gateway *provider.Gateway, messages MessageStore, conversations ConversationStore, retriever Retriever, reg *registry.Registry) (*Service, error) {
	if gateway == nil || gateway.Primary() == nil {
		return nil, fmt.Errorf("a primary provider is required")
	}
	if messages == nil || conversations == nil {
		return nil, fmt.Errorf("message and conversation stores are required")
	}
	if reg == nil {
		reg = registry.New()
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = defaultTitleTimeout
	}
	if cfg.CleanupTimeout <= 0 {
		cfg.CleanupTimeout = defaultCleanupTimeout
	}

	return &Service{
		cfg:           cfg,
		gateway:       gateway,
		messages:      messages,
		conversations: conversations,
		retriever:     retriever,
		registry:      reg,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// ChatRequest is one new user turn.
type ChatRequest struct {
	ConversationID string              `validate:"required"`
	UserID         string              `validate:"required"`
	Content        string              `validate:"required_without=Attachments"`
	Attachments    []models.Attachment `validate:"dive"`
}

// RetryRequest re-runs the reply to a conversation's trailing user message.
type RetryRequest struct {
	ConversationID string `validate:"required"`
	UserID         string `validate:"required"`
}

// CreateConversation starts an empty, untitled conversation for userID.
func (s *Service) CreateConversation(ctx context.Context, userID string) (models.Conversation, error) {
	if userID == "" {
		return models.Conversation{}, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	conv, err := s.conversations.Create(ctx, userID, "")
	if err != nil {
		return models.Conversation{}, fmt.Errorf("%w: failed to create conversation: %w", ErrPersistence, err)
	}
	return conv, nil
}

// Messages lists the completed messages of a conversation the user owns.
func (s *Service) Messages(ctx context.Context, conversationID, userID string) ([]models.PersistedMessage, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	all, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list messages: %w", ErrPersistence, err)
	}

	out := make([]models.PersistedMessage, 0, len(all))
	for _, m := range all {
		if m.Status == models.StatusDone {
			out = append(out, m)
		}
	}
	return out, nil
}

// Health reports the reachability of every configured provider.
func (s *Service) Health(ctx context.Context) map[string]bool {
	return s.gateway.Health(ctx)
}

func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load conversation: %w", ErrPersistence, err)
	}
	if conv == nil {
		return nil, ErrNotFound
	}
	if conv.UserID != userID {
		log.Warn().
			Str("conversation_id", conversationID).
			Str("user_id", userID).
			Msg("Rejected access to another user's conversation")
		return nil, ErrForbidden
	}
	return conv, nil
}

// history loads the conversation's completed messages and any placeholders
// left behind by streams that never finished. Nothing is modified.
func (s *Service) history(ctx context.Context, conversationID string) (done, stale []models.PersistedMessage, err error) {
	all, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to load history: %w", ErrPersistence, err)
	}

	done = make([]models.PersistedMessage, 0, len(all))
	for _, m := range all {
		if m.Status == models.StatusStreaming {
			stale = append(stale, m)
			continue
		}
		done = append(done, m)
	}
	return done, stale, nil
}

// purgeStale deletes placeholders found by history.
func (s *Service) purgeStale(ctx context.Context, conversationID string, stale []models.PersistedMessage) error {
	for _, m := range stale {
		if err := s.messages.Delete(ctx, m.ID); err != nil {
			return fmt.Errorf("%w: failed to delete stale placeholder: %w", ErrPersistence, err)
		}
		log.Info().
			Str("conversation_id", conversationID).
			Str("message_id", m.ID).
			Msg("Removed stale streaming placeholder")
	}
	return nil
}

func toTurns(msgs []models.PersistedMessage) []models.Turn {
	turns := make([]models.Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = m.Turn()
	}
	return turns
}
