package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/internal/connections"
	"github.com/deepgram/colloquy/internal/services"
	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider/providertest"
)

func TestMainServer(t *testing.T) {
	primary := providertest.New("primary", "m1", models.DoneEvent("stop", nil))
	svcs, err := services.NewWithProviders(chat.Config{}, primary, nil, services.MemoryStores(), nil)
	require.NoError(t, err)

	server := httptest.NewServer(setupRouter(svcs, connections.NewManager(connections.DefaultTimeouts)))
	defer server.Close()

	t.Run("health endpoint", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("websocket requires auth", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/v1/ws")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid endpoint", func(t *testing.T) {
		resp, err := http.Get(server.URL + "/invalid")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestShutdownCancelsStreams(t *testing.T) {
	primary := providertest.NewSteps("primary", "m1",
		providertest.Step{Event: models.TokenEvent("partial")},
		providertest.Step{Block: true},
	)
	stores := services.MemoryStores()
	svcs, err := services.NewWithProviders(chat.Config{}, primary, nil, stores, nil)
	require.NoError(t, err)

	ctx := context.Background()
	conv, err := svcs.GetChatService().CreateConversation(ctx, "alice")
	require.NoError(t, err)

	started := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		var once bool
		finished <- svcs.GetChatService().StreamChat(ctx,
			chat.ChatRequest{ConversationID: conv.ID, UserID: "alice", Content: "hi"},
			chat.SinkFunc(func(ev models.StreamEvent) error {
				if !once {
					once = true
					close(started)
				}
				return nil
			}))
	}()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("stream never started")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, shutdown(shutdownCtx, svcs, connections.NewManager(connections.DefaultTimeouts), &http.Server{}))

	assert.ErrorIs(t, <-finished, context.Canceled)
	assert.Equal(t, 0, svcs.GetRegistry().Count())

	all, err := stores.Messages.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.RoleUser, all[0].Role)

	err = svcs.GetChatService().StreamChat(ctx, chat.ChatRequest{ConversationID: conv.ID, UserID: "alice", Content: "again"},
		chat.SinkFunc(func(models.StreamEvent) error { return nil }))
	assert.ErrorIs(t, err, chat.ErrShuttingDown)
}

func TestPrintConfigRedactsKeys(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.ChatConfig{Primary: config.ProviderConfig{Backend: "openai", Model: "gpt-4o", APIKey: "sk-secret"}}

	require.NoError(t, printConfig(&buf, cfg))
	assert.NotContains(t, buf.String(), "sk-secret")
	assert.Contains(t, buf.String(), "gpt-4o")
	assert.Equal(t, "sk-secret", cfg.Primary.APIKey)
}

func TestAppCommands(t *testing.T) {
	app := newApp()
	var names []string
	for _, c := range app.Commands {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"serve", "config"}, names)
}
