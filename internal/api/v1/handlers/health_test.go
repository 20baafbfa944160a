package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepgram/colloquy/internal/infrastructure/memory"
	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/internal/services/provider"
	"github.com/deepgram/colloquy/internal/services/provider/providertest"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name            string
		fallbackHealthy bool
		wantStatus      int
		wantBody        string
	}{
		{"all healthy", true, http.StatusOK, "ok"},
		{"fallback down", false, http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := providertest.New("primary", "m1")
			fallback := providertest.New("fallback", "m2")
			fallback.Healthy = tt.fallbackHealthy

			svc, err := chat.NewService(chat.Config{}, provider.NewGateway(primary, fallback),
				memory.NewMessageStore(), memory.NewConversationStore(), nil, nil)
			require.NoError(t, err)

			w := httptest.NewRecorder()
			HandleHealth(svc, w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp HealthResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantBody, resp.Status)
			assert.Equal(t, map[string]bool{"primary": true, "fallback": tt.fallbackHealthy}, resp.Providers)
		})
	}
}
