package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/api/v1/middleware"
	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/retrieval"
	"github.com/deepgram/colloquy/pkg/httpext"
)

// IndexRequest carries a document that was already extracted and split.
type IndexRequest struct {
	Filename string              `json:"filename" validate:"required"`
	Chunks   []models.ChunkInput `json:"chunks" validate:"required,min=1,dive"`
}

// use a single instance of Validate, it caches struct info
var validate = validator.New(validator.WithRequiredStructEnabled())

// HandleIndex embeds and stores the chunks of one document for the caller.
func HandleIndex(retrievalService *retrieval.Service, w http.ResponseWriter, r *http.Request) {
	if retrievalService == nil {
		httpext.JsonError(w, "Document retrieval is disabled", http.StatusNotImplemented)
		return
	}

	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("Client sent malformed JSON request")
		httpext.JsonError(w, "Invalid request format", http.StatusBadRequest)
		return
	}

	if err := validate.Struct(req); err != nil {
		log.Warn().Err(err).Msg("Request validation failed")
		httpext.JsonError(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	doc, err := retrievalService.Index(r.Context(), middleware.UserID(r), req.Filename, req.Chunks)
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyDocument) {
			httpext.JsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().
			Err(err).
			Str("filename", req.Filename).
			Str("status", string(doc.Status)).
			Msg("Failed to index document")
		httpext.JsonErrorWithDetails(w, http.StatusBadGateway, httpext.ErrorResponse{
			Error:            "Failed to index document",
			ErrorDescription: string(doc.Status),
		})
		return
	}

	httpext.JsonResponse(w, http.StatusCreated, doc)
}
