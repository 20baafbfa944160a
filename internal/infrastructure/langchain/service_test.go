package langchain

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/deepgram/colloquy/internal/config"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider"
)

// fakeModel streams chunks through the streaming func, then returns resp or err.
type fakeModel struct {
	chunks []string
	resp   *llms.ContentResponse
	err    error
	block  bool

	mu       sync.Mutex
	messages []llms.MessageContent
	opts     llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.mu.Lock()
	m.messages = messages
	m.opts = opts
	m.mu.Unlock()

	for _, c := range m.chunks {
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.resp != nil {
		return m.resp, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{StopReason: "stop"}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func drain(t *testing.T, s provider.Stream) []models.StreamEvent {
	t.Helper()
	defer s.Close()
	var out []models.StreamEvent
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, ev)
	}
}

func TestStreamChatForwardsChunks(t *testing.T) {
	llm := &fakeModel{
		chunks: []string{"Hel", "", "lo"},
		resp: &llms.ContentResponse{Choices: []*llms.ContentChoice{{
			StopReason:     "STOP",
			GenerationInfo: map[string]any{"input_tokens": 4, "output_tokens": 2},
		}}},
	}
	svc := NewWithModel("fallback", "gemini-1.5-flash", llm)

	events := drain(t, svc.StreamChat(context.Background(), []models.Turn{
		models.NewTurn(models.RoleSystem, "sys"),
		models.NewTurn(models.RoleUser, "hi"),
	}, provider.Options{Temperature: 0.3, MaxTokens: 100}))

	require.Len(t, events, 3)
	assert.Equal(t, models.TokenEvent("Hel"), events[0])
	assert.Equal(t, models.TokenEvent("lo"), events[1])
	assert.Equal(t, "STOP", events[2].FinishReason)
	assert.Equal(t, &models.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}, events[2].Usage)

	assert.Equal(t, "gemini-1.5-flash", llm.opts.Model)
	assert.Equal(t, 100, llm.opts.MaxTokens)
	assert.InDelta(t, 0.3, llm.opts.Temperature, 1e-9)
	require.Len(t, llm.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, llm.messages[0].Role)
	assert.Equal(t, schema.ChatMessageTypeHuman, llm.messages[1].Role)
}

func TestCallOptionsLeaveUnsetTemperatureToModel(t *testing.T) {
	svc := NewWithModel("fallback", "gemini-1.5-flash", &fakeModel{})

	got := llms.CallOptions{Temperature: 0.7}
	for _, o := range svc.callOptions(provider.Options{MaxTokens: 32}) {
		o(&got)
	}
	assert.InDelta(t, 0.7, got.Temperature, 1e-9, "backend default is kept")
	assert.Equal(t, "gemini-1.5-flash", got.Model)
	assert.Equal(t, 32, got.MaxTokens)

	for _, o := range svc.callOptions(provider.Options{Temperature: 0.2}) {
		o(&got)
	}
	assert.InDelta(t, 0.2, got.Temperature, 1e-9)
}

func TestStreamChatClassifiesErrors(t *testing.T) {
	llm := &fakeModel{chunks: []string{"par"}, err: errors.New("googleapi: Error 429: Resource has been exhausted (e.g. check quota)")}
	svc := NewWithModel("fallback", "m", llm)

	events := drain(t, svc.StreamChat(context.Background(), []models.Turn{models.NewTurn(models.RoleUser, "hi")}, provider.Options{}))

	require.Len(t, events, 2)
	assert.Equal(t, models.TokenEvent("par"), events[0])
	assert.Equal(t, models.EventError, events[1].Type)
	assert.Equal(t, models.ErrorKindRateLimited, events[1].Kind)
}

func TestStreamChatStopsOnCancel(t *testing.T) {
	llm := &fakeModel{chunks: []string{"a"}, block: true}
	svc := NewWithModel("fallback", "m", llm)
	ctx, cancel := context.WithCancel(context.Background())

	s := svc.StreamChat(ctx, []models.Turn{models.NewTurn(models.RoleUser, "hi")}, provider.Options{})
	ev, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", ev.Text)

	cancel()
	_, err = s.Recv()
	assert.ErrorIs(t, err, context.Canceled)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked after cancellation")
	}
}

func TestToMessagesKeepsAttachments(t *testing.T) {
	msgs := toMessages([]models.Turn{{
		Role:        models.RoleUser,
		Text:        "look",
		Attachments: []models.Attachment{{MimeType: "image/jpeg", Data: []byte{1}}},
	}})

	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Parts, 2)
	assert.Equal(t, llms.TextContent{Text: "look"}, msgs[0].Parts[0])
	assert.Equal(t, llms.BinaryContent{MIMEType: "image/jpeg", Data: []byte{1}}, msgs[0].Parts[1])
}

func TestHealthCheck(t *testing.T) {
	assert.True(t, NewWithModel("f", "m", &fakeModel{}).HealthCheck(context.Background()))
	assert.False(t, NewWithModel("f", "m", &fakeModel{err: errors.New("unauthorized")}).HealthCheck(context.Background()))
}

func TestNewServiceRejectsUnknownBackend(t *testing.T) {
	_, err := NewService(context.Background(), config.ProviderConfig{Backend: "carrier-pigeon", Model: "m"})
	assert.ErrorContains(t, err, "unsupported backend")
}

func TestNewServiceOllama(t *testing.T) {
	svc, err := NewService(context.Background(), config.ProviderConfig{Backend: "ollama", Label: "local", Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "local", svc.Name())
	assert.Equal(t, "llama3", svc.Model())
}

func TestUsageFrom(t *testing.T) {
	assert.Nil(t, usageFrom(nil))
	assert.Nil(t, usageFrom(map[string]any{"unrelated": 1}))
	assert.Equal(t, &models.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
		usageFrom(map[string]any{"PromptTokens": 1, "CompletionTokens": 2, "TotalTokens": 3}))
	assert.Equal(t, &models.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
		usageFrom(map[string]any{"prompt_eval_count": float64(5), "eval_count": int64(7)}))
}
