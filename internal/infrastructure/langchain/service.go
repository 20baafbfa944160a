// Package langchain adapts langchaingo models (Gemini, Anthropic, Ollama, Cohere
// and OpenAI-compatible servers) to the streaming provider contract.
package langchain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider"
)

var errConsumerGone = errors.New("stream consumer went away")

type Service struct {
	llm   llms.Model
	label string
	model string
}

// Backends lists the backend names NewService understands.
var Backends = []string{"googleai", "anthropic", "ollama", "cohere", "openai-compatible"}

func NewService(ctx context.Context, cfg config.ProviderConfig) (*Service, error) {
	llm, err := newModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s model: %w", cfg.Backend, err)
	}

	log.Info().
		Str("backend", cfg.Backend).
		Str("label", cfg.Label).
		Str("model", cfg.Model).
		Msg("Initialising langchain backend")

	return NewWithModel(cfg.Label, cfg.Model, llm), nil
}

// NewWithModel wraps an already constructed model.
func NewWithModel(label, model string, llm llms.Model) *Service {
	return &Service{llm: llm, label: label, model: model}
}

func newModel(ctx context.Context, cfg config.ProviderConfig) (llms.Model, error) {
	switch strings.ToLower(cfg.Backend) {
	case "googleai", "gemini":
		return googleai.New(ctx,
			googleai.WithAPIKey(cfg.APIKey),
			googleai.WithDefaultModel(cfg.Model),
		)
	case "anthropic":
		return anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(cfg.Model),
		)
	case "ollama":
		serverURL := cfg.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		return ollama.New(
			ollama.WithServerURL(serverURL),
			ollama.WithModel(cfg.Model),
		)
	case "cohere":
		opts := []cohere.Option{
			cohere.WithToken(cfg.APIKey),
			cohere.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(cfg.BaseURL))
		}
		return cohere.New(opts...)
	case "openai-compatible":
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithToken(cfg.APIKey),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func (s *Service) Name() string  { return s.label }
func (s *Service) Model() string { return s.model }

// StreamChat runs GenerateContent on its own goroutine and forwards each
// streamed chunk as a token.
func (s *Service) StreamChat(ctx context.Context, turns []models.Turn, opts provider.Options) provider.Stream {
	messages := toMessages(turns)
	callOpts := s.callOptions(opts)

	return provider.Go(ctx, func(ctx context.Context, emit provider.Emit) {
		stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) == 0 {
				return nil
			}
			if !emit(models.TokenEvent(string(chunk))) {
				return errConsumerGone
			}
			return nil
		})

		resp, err := s.llm.GenerateContent(ctx, messages, append(callOpts, stream)...)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, errConsumerGone) {
				return
			}
			log.Warn().Err(err).Str("label", s.label).Msg("Langchain generation failed")
			emit(provider.ErrorEvent(err))
			return
		}

		finishReason := ""
		var usage *models.Usage
		if resp != nil && len(resp.Choices) > 0 {
			finishReason = resp.Choices[0].StopReason
			usage = usageFrom(resp.Choices[0].GenerationInfo)
		}
		emit(models.DoneEvent(finishReason, usage))
	})
}

func (s *Service) callOptions(opts provider.Options) []llms.CallOption {
	model := opts.Model
	if model == "" {
		model = s.model
	}

	var callOpts []llms.CallOption
	if opts.Temperature != 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if model != "" {
		callOpts = append(callOpts, llms.WithModel(model))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	return callOpts
}

// HealthCheck asks for a single token.
func (s *Service) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := []llms.CallOption{llms.WithMaxTokens(1)}
	if s.model != "" {
		opts = append(opts, llms.WithModel(s.model))
	}
	if _, err := llms.GenerateFromSinglePrompt(ctx, s.llm, "ping", opts...); err != nil {
		log.Warn().Err(err).Str("label", s.label).Msg("Langchain health check failed")
		return false
	}
	return true
}

func toMessages(turns []models.Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		parts := []llms.ContentPart{llms.TextPart(t.Text)}
		for _, a := range t.Attachments {
			parts = append(parts, llms.BinaryPart(a.MimeType, a.Data))
		}
		messages = append(messages, llms.MessageContent{Role: toRole(t.Role), Parts: parts})
	}
	return messages
}

func toRole(r models.Role) schema.ChatMessageType {
	switch r {
	case models.RoleSystem:
		return schema.ChatMessageTypeSystem
	case models.RoleAssistant:
		return schema.ChatMessageTypeAI
	default:
		return schema.ChatMessageTypeHuman
	}
}

// usageFrom reads token counts from the backend specific generation info.
func usageFrom(info map[string]any) *models.Usage {
	if len(info) == 0 {
		return nil
	}

	prompt, okP := intFrom(info, "PromptTokens", "input_tokens", "InputTokens", "prompt_eval_count")
	completion, okC := intFrom(info, "CompletionTokens", "output_tokens", "OutputTokens", "eval_count")
	if !okP && !okC {
		return nil
	}

	total, ok := intFrom(info, "TotalTokens", "total_tokens")
	if !ok {
		total = prompt + completion
	}
	return &models.Usage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: total}
}

func intFrom(info map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v, true
		case int32:
			return int(v), true
		case int64:
			return int(v), true
		case float64:
			return int(v), true
		}
	}
	return 0, false
}
