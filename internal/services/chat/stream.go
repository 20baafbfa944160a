package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/contextwindow"
	"github.com/deepgram/colloquy/internal/services/provider"
)

// StreamChat persists the user's turn and streams the assistant reply to sink.
//
// Failures before the first event (validation, ownership, persistence) are
// returned without sending anything. Once events flow, every outcome except
// cancellation ends with exactly one done or error event. Cancellation of ctx
// or a failing sink stops the stream and deletes the placeholder reply.
func (s *Service) StreamChat(ctx context.Context, req ChatRequest, sink EventSink) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return fmt.Errorf("%w: message content is empty", ErrValidation)
	}

	ctx, active, err := s.registry.Track(ctx, uuid.NewString())
	if err != nil {
		return err
	}
	defer active.Release()

	conv, err := s.authorize(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return err
	}

	history, stale, err := s.history(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if err := s.purgeStale(ctx, req.ConversationID, stale); err != nil {
		return err
	}

	if _, err := s.messages.Insert(ctx, models.PersistedMessage{
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Content,
		Status:         models.StatusDone,
	}); err != nil {
		return fmt.Errorf("%w: failed to save user message: %w", ErrPersistence, err)
	}

	live := models.Turn{Role: models.RoleUser, Text: req.Content, Attachments: req.Attachments}
	turns := append(toTurns(history), live)

	return s.run(ctx, conv, turns, sink)
}

// Retry re-runs the reply to the conversation's trailing user message. It is
// rejected when the conversation is empty or already ends with a reply.
func (s *Service) Retry(ctx context.Context, req RetryRequest, sink EventSink) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ctx, active, err := s.registry.Track(ctx, uuid.NewString())
	if err != nil {
		return err
	}
	defer active.Release()

	conv, err := s.authorize(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return err
	}

	history, stale, err := s.history(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if len(history) == 0 || history[len(history)-1].Role != models.RoleUser {
		return ErrRetryRejected
	}
	if err := s.purgeStale(ctx, req.ConversationID, stale); err != nil {
		return err
	}

	return s.run(ctx, conv, toTurns(history), sink)
}

// attempt is the provider currently producing the reply.
type attempt struct {
	provider provider.Provider
	opts     provider.Options
	stream   provider.Stream
}

func (a *attempt) model() string {
	if a.opts.Model != "" {
		return a.opts.Model
	}
	return a.provider.Model()
}

// run takes an authorized conversation whose last turn is the live user turn
// and streams the reply.
func (s *Service) run(ctx context.Context, conv *models.Conversation, turns []models.Turn, sink EventSink) error {
	live := turns[len(turns)-1]
	assembled := contextwindow.Assemble(turns, s.cfg.SystemPrompt, s.cfg.Budget)

	passages := s.retrieve(ctx, conv.UserID, live.Text)
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(passages) > 0 {
		assembled = withPassages(assembled, passages)
	}

	primary := s.gateway.Primary()
	current := &attempt{provider: primary, opts: s.cfg.PrimaryOptions}

	placeholderID, err := s.messages.Insert(ctx, models.PersistedMessage{
		ConversationID: conv.ID,
		Role:           models.RoleAssistant,
		Status:         models.StatusStreaming,
		Model:          current.model(),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: failed to create placeholder: %w", ErrPersistence, err)
	}

	logger := log.With().
		Str("conversation_id", conv.ID).
		Str("message_id", placeholderID).
		Logger()

	for _, p := range passages {
		if err := sink.Send(models.CitationEvent(p.Citation())); err != nil {
			s.discard(ctx, placeholderID)
			return fmt.Errorf("client disconnected: %w", err)
		}
	}

	current.stream = primary.StreamChat(ctx, assembled, current.opts)
	defer func() { current.stream.Close() }()

	var content strings.Builder
	failedOver := false

	for {
		ev, err := current.stream.Recv()
		if errors.Is(err, io.EOF) {
			ev = models.ErrorEvent(models.ErrorKindProvider, "provider stream ended without a terminal event")
		} else if err != nil {
			logger.Info().Err(err).Msg("Stream cancelled")
			s.discard(ctx, placeholderID)
			return err
		}

		switch ev.Type {
		case models.EventToken:
			if ev.Text == "" {
				continue
			}
			content.WriteString(ev.Text)
			if err := sink.Send(ev); err != nil {
				logger.Info().Err(err).Msg("Client went away mid-stream")
				s.discard(ctx, placeholderID)
				return fmt.Errorf("client disconnected: %w", err)
			}

		case models.EventInfo:
			if err := sink.Send(ev); err != nil {
				s.discard(ctx, placeholderID)
				return fmt.Errorf("client disconnected: %w", err)
			}

		case models.EventError:
			current.stream.Close()
			if ctx.Err() != nil {
				s.discard(ctx, placeholderID)
				return ctx.Err()
			}

			fallback := s.gateway.FallbackFor(current.provider)
			if !failedOver && fallback != nil && provider.IsRateLimited(ev) {
				logger.Warn().
					Str("from", current.provider.Name()).
					Str("to", fallback.Name()).
					Str("reason", ev.Message).
					Msg("Primary provider rate limited, failing over")

				notice := fmt.Sprintf("%s is rate limited, continuing with %s", current.provider.Name(), fallback.Name())
				if err := sink.Send(models.InfoEvent(notice)); err != nil {
					s.discard(ctx, placeholderID)
					return fmt.Errorf("client disconnected: %w", err)
				}

				failedOver = true
				current = &attempt{provider: fallback, opts: s.cfg.FallbackOptions}
				current.stream = fallback.StreamChat(ctx, provider.TextOnly(assembled), current.opts)
				continue
			}

			logger.Error().
				Str("provider", current.provider.Name()).
				Str("kind", string(ev.Kind)).
				Str("error", ev.Message).
				Msg("Provider stream failed")
			s.discard(ctx, placeholderID)
			if ev.Kind == "" {
				ev.Kind = provider.Classify(errors.New(ev.Message))
			}
			if err := sink.Send(ev); err != nil {
				logger.Debug().Err(err).Msg("Could not deliver error event")
			}
			return nil

		case models.EventDone:
			current.stream.Close()
			return s.finish(ctx, conv, turns, placeholderID, current, content.String(), ev, sink)

		default:
			logger.Debug().Str("type", string(ev.Type)).Msg("Ignoring unexpected provider event")
		}
	}
}

// finish finalizes or drops the placeholder and closes the stream with done.
func (s *Service) finish(ctx context.Context, conv *models.Conversation, turns []models.Turn, placeholderID string, current *attempt, content string, ev models.StreamEvent, sink EventSink) error {
	done := models.DoneEvent(ev.FinishReason, ev.Usage)
	done.ProviderLabel = current.provider.Name()

	if content == "" {
		log.Info().
			Str("conversation_id", conv.ID).
			Str("provider", current.provider.Name()).
			Msg("Provider returned an empty reply")
		s.discard(ctx, placeholderID)
		if err := sink.Send(done); err != nil {
			return fmt.Errorf("client disconnected: %w", err)
		}
		return nil
	}

	status, model := models.StatusDone, current.model()
	err := s.messages.Update(ctx, placeholderID, models.MessageUpdate{
		Content: &content,
		Status:  &status,
		Model:   &model,
	})
	if err != nil {
		s.discard(ctx, placeholderID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		log.Error().Err(err).Str("message_id", placeholderID).Msg("Failed to finalize reply")
		if sendErr := sink.Send(models.ErrorEvent(models.ErrorKindPersistence, "failed to save reply")); sendErr != nil {
			log.Debug().Err(sendErr).Msg("Could not deliver error event")
		}
		return fmt.Errorf("%w: failed to finalize reply: %w", ErrPersistence, err)
	}

	done.MessageID = placeholderID
	if err := sink.Send(done); err != nil {
		log.Debug().Err(err).Str("message_id", placeholderID).Msg("Client left before done event")
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("message_id", placeholderID).
		Str("provider", current.provider.Name()).
		Str("model", model).
		Int("chars", len(content)).
		Msg("Reply completed")

	if s.cfg.TitleEnabled && conv.Title == "" && len(turns) <= 1 {
		s.startTitle(ctx, conv.ID, current, turns[len(turns)-1].Text, content)
	}
	return nil
}

// discard deletes the placeholder on a context that outlives the request.
func (s *Service) discard(ctx context.Context, placeholderID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CleanupTimeout)
	defer cancel()

	if err := s.messages.Delete(cleanupCtx, placeholderID); err != nil {
		log.Error().Err(err).Str("message_id", placeholderID).Msg("Failed to delete placeholder reply")
	}
}

func (s *Service) retrieve(ctx context.Context, userID, query string) []models.RetrievedPassage {
	if !s.cfg.RetrievalEnabled || s.retriever == nil || strings.TrimSpace(query) == "" {
		return nil
	}

	passages, err := s.retriever.Query(ctx, query, userID, s.cfg.TopK)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Retrieval failed, continuing without document context")
		return nil
	}
	return passages
}

// withPassages inserts the retrieved excerpts as a system turn ahead of the
// conversation history, after the configured system prompt.
func withPassages(turns []models.Turn, passages []models.RetrievedPassage) []models.Turn {
	var b strings.Builder
	b.WriteString("Relevant excerpts from the user's documents:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n[%d] %s, page %d:\n%s\n", i+1, p.SourceName, p.PageNumber, p.Text)
	}
	excerpt := models.NewTurn(models.RoleSystem, b.String())

	at := 0
	if len(turns) > 0 && turns[0].Role == models.RoleSystem {
		at = 1
	}

	out := make([]models.Turn, 0, len(turns)+1)
	out = append(out, turns[:at]...)
	out = append(out, excerpt)
	return append(out, turns[at:]...)
}
