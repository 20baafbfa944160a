package models

// EventType tags a StreamEvent.
type EventType string

const (
	EventToken    EventType = "token"
	EventCitation EventType = "citation"
	EventInfo     EventType = "info"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// ErrorKind classifies an error event.
type ErrorKind string

const (
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindProvider    ErrorKind = "provider_error"
	ErrorKindPersistence ErrorKind = "persistence_error"
	ErrorKindInternal    ErrorKind = "internal_error"
)

// Citation points at a retrieved passage backing the answer.
type Citation struct {
	Source    string  `json:"source"`
	Page      int     `json:"page"`
	Relevance float64 `json:"relevance"`
}

// Usage is token accounting reported by a provider, when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one element of the response stream. Only the fields that
// belong to Type are set.
type StreamEvent struct {
	Type EventType `json:"type"`

	// token
	Text string `json:"text,omitempty"`

	// citation
	Citation *Citation `json:"citation,omitempty"`

	// info and error
	Message string    `json:"message,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`

	// done
	FinishReason  string `json:"finish_reason,omitempty"`
	Usage         *Usage `json:"usage,omitempty"`
	ProviderLabel string `json:"provider,omitempty"`
	MessageID     string `json:"message_id,omitempty"`
}

// Terminal reports whether the event closes a stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

func TokenEvent(text string) StreamEvent {
	return StreamEvent{Type: EventToken, Text: text}
}

func CitationEvent(c Citation) StreamEvent {
	return StreamEvent{Type: EventCitation, Citation: &c}
}

func InfoEvent(message string) StreamEvent {
	return StreamEvent{Type: EventInfo, Message: message}
}

func DoneEvent(finishReason string, usage *Usage) StreamEvent {
	return StreamEvent{Type: EventDone, FinishReason: finishReason, Usage: usage}
}

func ErrorEvent(kind ErrorKind, message string) StreamEvent {
	return StreamEvent{Type: EventError, Kind: kind, Message: message}
}
