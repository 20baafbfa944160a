package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

// StatusError carries the HTTP status a backend reported alongside its error.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"rate_limit",
	"resource_exhausted",
	"resource exhausted",
	"quota",
	"too many requests",
}

func looksRateLimited(message string) bool {
	message = strings.ToLower(message)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}

// Classify maps a backend error to an event kind. A StatusError decides on
// its own; message matching is the fallback for backends that only return text.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return ""
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode == http.StatusTooManyRequests {
			return models.ErrorKindRateLimited
		}
		return models.ErrorKindProvider
	}

	if looksRateLimited(err.Error()) {
		return models.ErrorKindRateLimited
	}
	return models.ErrorKindProvider
}

// ErrorEvent converts a backend error into a terminal event.
func ErrorEvent(err error) models.StreamEvent {
	return models.ErrorEvent(Classify(err), err.Error())
}

// IsRateLimited reports whether an error event should trigger failover.
func IsRateLimited(ev models.StreamEvent) bool {
	if ev.Type != models.EventError {
		return false
	}
	if ev.Kind == models.ErrorKindRateLimited {
		return true
	}
	if ev.Kind == "" {
		return looksRateLimited(ev.Message)
	}
	return false
}
