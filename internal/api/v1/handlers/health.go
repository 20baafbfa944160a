package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/deepgram/colloquy/internal/services/chat"
	"github.com/deepgram/colloquy/pkg/httpext"
)

const healthTimeout = 5 * time.Second

// HealthResponse lists each configured provider's probe result.
type HealthResponse struct {
	Status    string          `json:"status"`
	Providers map[string]bool `json:"providers"`
}

// HandleHealth probes every provider and answers 503 unless all are healthy.
func HandleHealth(chatService *chat.Service, w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Providers: chatService.Health(ctx)}
	code := http.StatusOK
	for _, healthy := range resp.Providers {
		if !healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	httpext.JsonResponse(w, code, resp)
}
