package httpext

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported by response writer")

// EventStream writes server-sent events. Headers are sent lazily on the first
// event so callers can still answer with a plain JSON error before that.
type EventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func NewEventStream(w http.ResponseWriter) (*EventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &EventStream{w: w, flusher: flusher}, nil
}

// Started reports whether any event has been written.
func (s *EventStream) Started() bool {
	return s.started
}

// Write sends one event named name with a JSON encoded payload.
func (s *EventStream) Write(name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
