package conversations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/colloquy/internal/api/v1/middleware"
	"github.com/deepgram/colloquy/internal/infrastructure/memory"
	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider"
	"github.com/deepgram/colloquy/internal/services/provider/providertest"
	"github.com/deepgram/colloquy/internal/services/registry"
	"github.com/deepgram/colloquy/pkg/httpext"
)

type fixture struct {
	service  *chat.Service
	messages *memory.MessageStore
	convs    *memory.ConversationStore
	registry *registry.Registry
	router   *mux.Router
}

func newFixture(t *testing.T, primary provider.Provider) *fixture {
	t.Helper()
	f := &fixture{
		messages: memory.NewMessageStore(),
		convs:    memory.NewConversationStore(),
		registry: registry.New(),
	}

	svc, err := chat.NewService(chat.Config{}, provider.NewGateway(primary, nil), f.messages, f.convs, nil, f.registry)
	require.NoError(t, err)
	f.service = svc

	// Stand-in for RequireAuth: the caller names itself in X-User.
	asUser := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), r.Header.Get("X-User"))))
		})
	}

	f.router = mux.NewRouter()
	f.router.Use(asUser)
	f.router.HandleFunc("/conversations", func(w http.ResponseWriter, r *http.Request) {
		HandleCreate(svc, w, r)
	}).Methods("POST")
	f.router.HandleFunc("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		HandleListMessages(svc, w, r)
	}).Methods("GET")
	f.router.HandleFunc("/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		HandleSend(svc, w, r)
	}).Methods("POST")
	f.router.HandleFunc("/conversations/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		HandleRetry(svc, w, r)
	}).Methods("POST")
	return f
}

func (f *fixture) do(method, path, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) conversation(t *testing.T, user string) string {
	t.Helper()
	w := f.do(http.MethodPost, "/conversations", user, "")
	require.Equal(t, http.StatusCreated, w.Code)

	var conv models.Conversation
	require.NoError(t, json.NewDecoder(w.Body).Decode(&conv))
	assert.Equal(t, user, conv.UserID)
	return conv.ID
}

type sseEvent struct {
	name string
	data models.StreamEvent
}

func parseEvents(t *testing.T, body string) []sseEvent {
	t.Helper()
	var out []sseEvent
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev.data))
			}
		}
		out = append(out, ev)
	}
	return out
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) httpext.ErrorResponse {
	t.Helper()
	var body httpext.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestSendStreamsEventsAndPersistsReply(t *testing.T) {
	p := providertest.New("primary", "m1",
		models.TokenEvent("Hel"),
		models.TokenEvent("lo"),
		models.DoneEvent("stop", nil),
	)
	f := newFixture(t, p)
	id := f.conversation(t, "alice")

	w := f.do(http.MethodPost, "/conversations/"+id+"/messages", "alice", `{"content":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseEvents(t, w.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "token", events[0].name)
	assert.Equal(t, "Hel", events[0].data.Text)
	assert.Equal(t, "done", events[2].name)
	assert.NotEmpty(t, events[2].data.MessageID)

	list := f.do(http.MethodGet, "/conversations/"+id+"/messages", "alice", "")
	require.Equal(t, http.StatusOK, list.Code)

	var resp struct {
		Messages []models.PersistedMessage `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, models.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, "Hello", resp.Messages[1].Content)
	assert.Equal(t, "m1", resp.Messages[1].Model)
}

func TestSendRejectionsAreJSON(t *testing.T) {
	f := newFixture(t, providertest.New("primary", "m1", models.DoneEvent("stop", nil)))
	id := f.conversation(t, "alice")

	tests := []struct {
		name       string
		path       string
		user       string
		body       string
		wantStatus int
	}{
		{"malformed body", "/conversations/" + id + "/messages", "alice", `{`, http.StatusBadRequest},
		{"empty content", "/conversations/" + id + "/messages", "alice", `{"content":"  "}`, http.StatusBadRequest},
		{"unknown conversation", "/conversations/nope/messages", "alice", `{"content":"hi"}`, http.StatusNotFound},
		{"other user", "/conversations/" + id + "/messages", "mallory", `{"content":"hi"}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.NotEmpty(t, errorBody(t, w).Error)
		})
	}
}

func TestListMessagesForbidden(t *testing.T) {
	f := newFixture(t, providertest.New("primary", "m1", models.DoneEvent("stop", nil)))
	id := f.conversation(t, "alice")

	w := f.do(http.MethodGet, "/conversations/"+id+"/messages", "mallory", "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRetry(t *testing.T) {
	p := providertest.New("primary", "m1", models.TokenEvent("again"), models.DoneEvent("stop", nil))
	f := newFixture(t, p)
	id := f.conversation(t, "alice")

	t.Run("rejected on empty conversation", func(t *testing.T) {
		w := f.do(http.MethodPost, "/conversations/"+id+"/retry", "alice", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("replays trailing user message", func(t *testing.T) {
		_, err := f.messages.Insert(context.Background(), models.PersistedMessage{
			ConversationID: id,
			Role:           models.RoleUser,
			Content:        "question",
			Status:         models.StatusDone,
		})
		require.NoError(t, err)

		w := f.do(http.MethodPost, "/conversations/"+id+"/retry", "alice", "")
		require.Equal(t, http.StatusOK, w.Code)

		events := parseEvents(t, w.Body.String())
		require.Len(t, events, 2)
		assert.Equal(t, "again", events[0].data.Text)
		assert.Equal(t, "done", events[1].name)

		reqs := p.Requests()
		require.NotEmpty(t, reqs)
		last := reqs[len(reqs)-1]
		assert.Equal(t, "question", last[len(last)-1].Text)
	})
}

func TestSendDuringShutdown(t *testing.T) {
	f := newFixture(t, providertest.New("primary", "m1", models.DoneEvent("stop", nil)))
	id := f.conversation(t, "alice")
	require.NoError(t, f.registry.Shutdown(context.Background()))

	w := f.do(http.MethodPost, "/conversations/"+id+"/messages", "alice", `{"content":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProviderErrorIsStreamed(t *testing.T) {
	p := providertest.New("primary", "m1",
		models.TokenEvent("par"),
		models.ErrorEvent(models.ErrorKindProvider, "upstream exploded"),
	)
	f := newFixture(t, p)
	id := f.conversation(t, "alice")

	w := f.do(http.MethodPost, "/conversations/"+id+"/messages", "alice", `{"content":"hi"}`)
	require.Equal(t, http.StatusOK, w.Code)

	events := parseEvents(t, w.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1].name)
	assert.Equal(t, models.ErrorKindProvider, events[1].data.Kind)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(chat.ErrValidation))
	assert.Equal(t, http.StatusConflict, StatusFor(chat.ErrRetryRejected))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(registry.ErrShuttingDown))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(chat.ErrPersistence))
}
