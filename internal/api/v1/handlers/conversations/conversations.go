// Package conversations serves conversation CRUD and the server-sent event
// chat stream.
package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/api/v1/middleware"
	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/pkg/httpext"
)

// SendRequest is the body of a new user turn.
type SendRequest struct {
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

// StatusFor maps orchestration errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrRetryRejected):
		return http.StatusConflict
	case errors.Is(err, chat.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	body := httpext.ErrorResponse{Error: http.StatusText(code)}
	if code < http.StatusInternalServerError {
		body.ErrorDescription = err.Error()
	}
	httpext.JsonErrorWithDetails(w, code, body)
}

func HandleCreate(chatService *chat.Service, w http.ResponseWriter, r *http.Request) {
	conv, err := chatService.CreateConversation(r.Context(), middleware.UserID(r))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create conversation")
		writeError(w, err)
		return
	}

	log.Info().
		Str("conversation_id", conv.ID).
		Str("user_id", conv.UserID).
		Msg("Conversation created")
	httpext.JsonResponse(w, http.StatusCreated, conv)
}

func HandleListMessages(chatService *chat.Service, w http.ResponseWriter, r *http.Request) {
	msgs, err := chatService.Messages(r.Context(), mux.Vars(r)["id"], middleware.UserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// HandleSend streams the reply to a new user turn as server-sent events.
func HandleSend(chatService *chat.Service, w http.ResponseWriter, r *http.Request) {
	var body SendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Warn().Err(err).Msg("Client sent malformed JSON request")
		httpext.JsonError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	req := chat.ChatRequest{
		ConversationID: mux.Vars(r)["id"],
		UserID:         middleware.UserID(r),
		Content:        body.Content,
		Attachments:    body.Attachments,
	}

	serveStream(w, r, func(ctx context.Context, sink chat.EventSink) error {
		return chatService.StreamChat(ctx, req, sink)
	})
}

// HandleRetry re-runs the reply to the conversation's trailing user message.
func HandleRetry(chatService *chat.Service, w http.ResponseWriter, r *http.Request) {
	req := chat.RetryRequest{
		ConversationID: mux.Vars(r)["id"],
		UserID:         middleware.UserID(r),
	}

	serveStream(w, r, func(ctx context.Context, sink chat.EventSink) error {
		return chatService.Retry(ctx, req, sink)
	})
}

// serveStream answers with a JSON error if run fails before its first event,
// and otherwise leaves the response as an event stream.
func serveStream(w http.ResponseWriter, r *http.Request, run func(context.Context, chat.EventSink) error) {
	stream, err := httpext.NewEventStream(w)
	if err != nil {
		log.Error().Err(err).Msg("Response writer cannot stream")
		httpext.JsonError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sink := chat.SinkFunc(func(ev models.StreamEvent) error {
		return stream.Write(string(ev.Type), ev)
	})

	err = run(r.Context(), sink)
	switch {
	case err == nil:
	case !stream.Started():
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("Chat stream rejected")
		writeError(w, err)
	case errors.Is(err, context.Canceled):
		log.Info().Str("path", r.URL.Path).Msg("Client disconnected mid-stream")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Chat stream ended with error")
	}
}
