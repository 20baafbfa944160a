// Package websocket carries the chat stream over a websocket. Each client frame
// starts, retries or cancels a reply; server frames are stream events.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/api/v1/handlers/conversations"
	"github.com/deepgram/colloquy/internal/api/v1/middleware"
	"github.com/deepgram/colloquy/internal/connections"
	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/internal/services/chat/models"
)

var (
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: Implement proper origin checking based on configuration
			return true
		},
	}

	errStreamInProgress = errors.New("a reply is already streaming on this connection")
)

// Frame types a client may send.
const (
	FrameChat   = "chat"
	FrameRetry  = "retry"
	FrameCancel = "cancel"
)

// ClientFrame is one client request. Type defaults to chat.
type ClientFrame struct {
	Type           string              `json:"type"`
	ConversationID string              `json:"conversation_id"`
	Content        string              `json:"content"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
}

// Rejection reports a request refused before any event was streamed. Status
// mirrors the HTTP status the REST endpoints would answer with.
type Rejection struct {
	Type    string `json:"type"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Cancelled acknowledges a client cancel once the reply has been discarded.
type Cancelled struct {
	Type string `json:"type"`
}

type session struct {
	conn     *websocket.Conn
	chat     *chat.Service
	userID   string
	timeouts connections.TimeoutConfig

	ctx     context.Context
	writeMu sync.Mutex

	mu           sync.Mutex
	streamCancel context.CancelFunc
	streamGen    uint64
	wg           sync.WaitGroup
}

// HandleChat upgrades an authenticated request and serves chat frames until
// the socket closes. Closing the socket cancels the reply in flight.
func HandleChat(chatService *chat.Service, manager *connections.Manager, w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	s := &session{
		conn:     conn,
		chat:     chatService,
		userID:   userID,
		timeouts: manager.GetTimeouts(),
		ctx:      ctx,
	}

	manager.AddConnection(conn, cancel)
	defer func() {
		cancel()
		s.wg.Wait()
		manager.RemoveConnection(conn)
		conn.Close()
	}()

	log.Info().Str("user_id", userID).Msg("Websocket chat connected")

	conn.SetReadDeadline(time.Now().Add(s.timeouts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.timeouts.PongWait))
	})

	go s.keepAlive()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("user_id", userID).Msg("Unexpected websocket closure")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.timeouts.PongWait))

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reject(fmt.Errorf("%w: malformed frame: %v", chat.ErrValidation, err))
			continue
		}
		s.dispatch(frame)
	}
}

func (s *session) dispatch(frame ClientFrame) {
	switch frame.Type {
	case FrameChat, "":
		req := chat.ChatRequest{
			ConversationID: frame.ConversationID,
			UserID:         s.userID,
			Content:        frame.Content,
			Attachments:    frame.Attachments,
		}
		s.start(func(ctx context.Context, sink chat.EventSink) error {
			return s.chat.StreamChat(ctx, req, sink)
		})
	case FrameRetry:
		req := chat.RetryRequest{ConversationID: frame.ConversationID, UserID: s.userID}
		s.start(func(ctx context.Context, sink chat.EventSink) error {
			return s.chat.Retry(ctx, req, sink)
		})
	case FrameCancel:
		s.mu.Lock()
		if s.streamCancel != nil {
			s.streamCancel()
		}
		s.mu.Unlock()
	default:
		s.reject(fmt.Errorf("%w: unknown frame type %q", chat.ErrValidation, frame.Type))
	}
}

// start runs one reply in the background. Only one reply streams at a time.
func (s *session) start(run func(context.Context, chat.EventSink) error) {
	s.mu.Lock()
	if s.streamCancel != nil {
		s.mu.Unlock()
		s.reject(errStreamInProgress)
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.streamCancel = cancel
	s.streamGen++
	gen := s.streamGen
	s.wg.Add(1)
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		if s.streamGen == gen {
			s.streamCancel = nil
		}
		s.mu.Unlock()
	}

	go func() {
		defer s.wg.Done()
		defer func() {
			release()
			cancel()
		}()

		sent := false
		err := run(ctx, chat.SinkFunc(func(ev models.StreamEvent) error {
			sent = true
			// The client may send its next turn as soon as it sees the terminal frame.
			if ev.Terminal() {
				release()
			}
			return s.write(ev)
		}))

		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) && s.ctx.Err() == nil:
			// The client asked to stop; the socket itself is still open.
			_ = s.write(Cancelled{Type: "cancelled"})
		case errors.Is(err, context.Canceled):
		case !sent:
			s.reject(err)
		default:
			log.Error().Err(err).Str("user_id", s.userID).Msg("Websocket chat stream ended with error")
		}
	}()
}

func (s *session) reject(err error) {
	status := http.StatusConflict
	if !errors.Is(err, errStreamInProgress) {
		status = conversations.StatusFor(err)
	}

	log.Warn().Err(err).Int("status", status).Str("user_id", s.userID).Msg("Websocket chat request rejected")

	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	_ = s.write(Rejection{Type: "rejected", Status: status, Message: message})
}

func (s *session) write(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.timeouts.WriteWait))
	return s.conn.WriteJSON(v)
}

func (s *session) keepAlive() {
	ticker := time.NewTicker(s.timeouts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(s.timeouts.WriteWait)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
