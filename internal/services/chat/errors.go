package chat

import (
	"errors"

	"github.com/deepgram/colloquy/internal/services/registry"
)

var (
	ErrValidation    = errors.New("invalid request")
	ErrNotFound      = errors.New("conversation not found")
	ErrForbidden     = errors.New("conversation belongs to another user")
	ErrPersistence   = errors.New("message store unavailable")
	ErrRetryRejected = errors.New("conversation does not end with a user message")
	ErrShuttingDown  = registry.ErrShuttingDown
)
