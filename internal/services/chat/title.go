package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider"
)

const maxTitleRunes = 80

const titlePrompt = `Write a short title, at most six words, for a conversation that starts with the exchange below.
Reply with the title only, without quotes or punctuation at the end.`

// startTitle names the conversation in the background once its first reply
// is done. The work is tracked by the registry so shutdown cancels and waits
// for it; it is skipped when the registry is already draining.
func (s *Service) startTitle(ctx context.Context, conversationID string, current *attempt, question, answer string) {
	titleCtx, active, err := s.registry.Track(context.WithoutCancel(ctx), "title:"+uuid.NewString())
	if err != nil {
		log.Debug().Err(err).Str("conversation_id", conversationID).Msg("Skipping title generation")
		return
	}

	p, opts := current.provider, current.opts
	go func() {
		defer active.Release()
		s.generateTitle(titleCtx, conversationID, p, opts, question, answer)
	}()
}

// generateTitle asks p, the provider that produced the reply, for a title.
// Failures are logged and otherwise ignored.
func (s *Service) generateTitle(ctx context.Context, conversationID string, p provider.Provider, opts provider.Options, question, answer string) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TitleTimeout)
	defer cancel()

	title, err := s.requestTitle(ctx, p, opts, question, answer)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Str("provider", p.Name()).Msg("Title generation failed")
		return
	}
	if title == "" {
		return
	}

	if err := s.conversations.SetTitle(ctx, conversationID, title); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("Failed to store conversation title")
		return
	}
	log.Debug().Str("conversation_id", conversationID).Str("title", title).Msg("Conversation titled")
}

func (s *Service) requestTitle(ctx context.Context, p provider.Provider, opts provider.Options, question, answer string) (string, error) {
	turns := []models.Turn{
		models.NewTurn(models.RoleSystem, titlePrompt),
		models.NewTurn(models.RoleUser, fmt.Sprintf("User: %s\n\nAssistant: %s", question, answer)),
	}

	opts.MaxTokens = 32
	stream := p.StreamChat(ctx, turns, opts)
	defer stream.Close()

	var b strings.Builder
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return cleanTitle(b.String()), nil
		}
		if err != nil {
			return "", err
		}
		switch ev.Type {
		case models.EventToken:
			b.WriteString(ev.Text)
		case models.EventError:
			return "", errors.New(ev.Message)
		case models.EventDone:
			return cleanTitle(b.String()), nil
		}
	}
}

// cleanTitle keeps the first non-empty line, strips wrapping quotes and caps
// the length.
func cleanTitle(raw string) string {
	var line string
	for _, l := range strings.Split(raw, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}

	line = strings.TrimPrefix(line, "Title:")
	line = strings.Trim(strings.TrimSpace(line), "\"'`“”‘’*")
	line = strings.TrimSpace(strings.TrimRight(line, "."))

	if utf8.RuneCountInString(line) > maxTitleRunes {
		line = strings.TrimSpace(string([]rune(line)[:maxTitleRunes]))
	}
	return line
}
