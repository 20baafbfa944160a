package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider"
)

// Service is an OpenAI (or OpenAI compatible) chat backend and embedder.
type Service struct {
	mu             sync.RWMutex
	client         *openai.Client
	label          string
	model          string
	embeddingModel string
}

// NewService builds a backend from provider settings. The key falls back to
// OPENAI_KEY. It returns nil when no key is available.
func NewService(cfg config.ProviderConfig, embeddingModel string) *Service {
	key := cfg.APIKey
	if key == "" {
		key = config.GetOpenAIKey()
	}
	if key == "" {
		log.Warn().Str("label", cfg.Label).Msg("OpenAI backend not configured - API key missing")
		return nil
	}

	clientConfig := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	log.Info().
		Str("label", cfg.Label).
		Str("model", cfg.Model).
		Msg("Initialising OpenAI backend")

	return &Service{
		client:         openai.NewClientWithConfig(clientConfig),
		label:          cfg.Label,
		model:          cfg.Model,
		embeddingModel: embeddingModel,
	}
}

func (s *Service) GetClient() *openai.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *Service) Name() string  { return s.label }
func (s *Service) Model() string { return s.model }

// StreamChat opens a streamed chat completion. Failures to open are reported
// as the stream's single error event.
func (s *Service) StreamChat(ctx context.Context, turns []models.Turn, opts provider.Options) provider.Stream {
	model := opts.Model
	if model == "" {
		model = s.model
	}

	req := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      toMessages(turns),
		Temperature:   float32(opts.Temperature),
		MaxTokens:     opts.MaxTokens,
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}

	stream, err := s.GetClient().CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return &chatStream{ctx: ctx}
		}
		log.Warn().Err(err).Str("model", model).Msg("Failed to open OpenAI stream")
		return provider.Events(provider.ErrorEvent(wrapError(err)))
	}

	return &chatStream{ctx: ctx, stream: stream}
}

// HealthCheck lists models with a short timeout.
func (s *Service) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.GetClient().ListModels(ctx); err != nil {
		log.Warn().Err(err).Str("label", s.label).Msg("OpenAI health check failed")
		return false
	}
	return true
}

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request and returns vectors in input order.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := s.GetClient().CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(s.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", wrapError(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func toMessages(turns []models.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msg := openai.ChatCompletionMessage{Role: toRole(t.Role)}
		if len(t.Attachments) == 0 {
			msg.Content = t.Text
			messages = append(messages, msg)
			continue
		}

		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: t.Text}}
		for _, a := range t.Attachments {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:" + a.MimeType + ";base64," + base64.StdEncoding.EncodeToString(a.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		}
		msg.MultiContent = parts
		messages = append(messages, msg)
	}
	return messages
}

func toRole(r models.Role) string {
	switch r {
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// wrapError attaches the HTTP status go-openai reports so rate limiting is
// classified from the status rather than the message.
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &provider.StatusError{StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &provider.StatusError{StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}

// chatStream adapts go-openai's stream reader to provider.Stream.
type chatStream struct {
	ctx    context.Context
	stream *openai.ChatCompletionStream

	finishReason string
	usage        *models.Usage
	terminated   bool
	closeOnce    sync.Once
}

func (c *chatStream) Recv() (models.StreamEvent, error) {
	if c.terminated {
		return models.StreamEvent{}, io.EOF
	}
	if c.stream == nil {
		c.terminated = true
		return models.StreamEvent{}, c.ctx.Err()
	}

	for {
		resp, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			c.terminated = true
			return models.DoneEvent(c.finishReason, c.usage), nil
		}
		if err != nil {
			c.terminated = true
			if ctxErr := c.ctx.Err(); ctxErr != nil {
				return models.StreamEvent{}, ctxErr
			}
			return provider.ErrorEvent(wrapError(err)), nil
		}

		if resp.Usage != nil {
			c.usage = &models.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			c.finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content != "" {
			return models.TokenEvent(choice.Delta.Content), nil
		}
	}
}

func (c *chatStream) Close() error {
	c.closeOnce.Do(func() {
		if c.stream != nil {
			c.stream.Close()
		}
	})
	return nil
}
