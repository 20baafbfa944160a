package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider/providertest"
)

func TestChatConfigMapping(t *testing.T) {
	cfg := &config.ChatConfig{
		SystemPrompt: "sys",
		Primary:      config.ProviderConfig{Backend: "openai", Model: "gpt-4o", Temperature: 0.5, MaxTokens: 200},
		Fallback:     config.ProviderConfig{Backend: "googleai", Model: "gemini-1.5-flash", MaxTokens: 100},
		Context:      config.ContextConfig{MaxTokens: 4000, ReserveTokens: 500},
		Retrieval:    config.RetrievalConfig{Enabled: true, TopK: 7},
		Title:        config.TitleConfig{Enabled: true, Timeout: 3 * time.Second},
	}

	got := ChatConfig(cfg)

	assert.Equal(t, "sys", got.SystemPrompt)
	assert.Equal(t, 3500, got.Budget.Available())
	assert.Equal(t, "gpt-4o", got.PrimaryOptions.Model)
	assert.Equal(t, 200, got.PrimaryOptions.MaxTokens)
	assert.Equal(t, "gemini-1.5-flash", got.FallbackOptions.Model)
	assert.True(t, got.RetrievalEnabled)
	assert.Equal(t, 7, got.TopK)
	assert.Equal(t, 3*time.Second, got.TitleTimeout)
}

func TestNewProviderOpenAIRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_KEY", "")
	_, err := NewProvider(context.Background(), config.ProviderConfig{Backend: "openai", Label: "primary", Model: "gpt-4o"}, "")
	assert.Error(t, err)
}

func TestNewProviderLangchainBackend(t *testing.T) {
	p, err := NewProvider(context.Background(), config.ProviderConfig{Backend: "ollama", Label: "fallback", Model: "llama3"}, "")
	require.NoError(t, err)
	assert.Equal(t, "fallback", p.Name())
}

func TestNewWithProvidersStreamsAndShutsDown(t *testing.T) {
	primary := providertest.New("primary", "m", models.TokenEvent("hi"), models.DoneEvent("stop", nil))
	svcs, err := NewWithProviders(chat.Config{}, primary, nil, MemoryStores(), nil)
	require.NoError(t, err)
	assert.Nil(t, svcs.GetRetrievalService())

	ctx := context.Background()
	conv, err := svcs.GetChatService().CreateConversation(ctx, "u1")
	require.NoError(t, err)

	var events []models.StreamEvent
	err = svcs.GetChatService().StreamChat(ctx, chat.ChatRequest{ConversationID: conv.ID, UserID: "u1", Content: "hello"},
		chat.SinkFunc(func(ev models.StreamEvent) error {
			events = append(events, ev)
			return nil
		}))
	require.NoError(t, err)
	assert.Len(t, events, 2)

	require.NoError(t, svcs.Shutdown(ctx))
	svcs.Close()
}
