// Package provider defines the streaming contract every language-model backend
// implements and the primary/fallback pairing used for failover.
package provider

import (
	"context"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

// Options tunes one completion request. Zero values use the provider's defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Stream is a pull-based sequence of events. Recv returns events in provider
// order, ending with exactly one done or error event, and io.EOF after that.
// A non-EOF error from Recv means the caller's context was cancelled.
// Close releases the underlying connection and may be called at any time.
type Stream interface {
	Recv() (models.StreamEvent, error)
	Close() error
}

type Provider interface {
	// Name is the label reported on done events.
	Name() string
	// Model is the default model used when Options.Model is empty.
	Model() string
	// StreamChat never fails synchronously; open failures arrive as an error event.
	StreamChat(ctx context.Context, turns []models.Turn, opts Options) Stream
	HealthCheck(ctx context.Context) bool
}

// TextOnly returns a copy of turns without attachments.
func TextOnly(turns []models.Turn) []models.Turn {
	out := make([]models.Turn, len(turns))
	for i, t := range turns {
		out[i] = models.Turn{Role: t.Role, Text: t.Text}
	}
	return out
}

// Gateway pairs the primary provider with an optional text-only fallback.
type Gateway struct {
	primary  Provider
	fallback Provider
}

func NewGateway(primary, fallback Provider) *Gateway {
	return &Gateway{primary: primary, fallback: fallback}
}

func (g *Gateway) Primary() Provider {
	return g.primary
}

// FallbackFor returns the fallback to switch to after p is rate limited, or
// nil when none is configured or it is the same backend as p.
func (g *Gateway) FallbackFor(p Provider) Provider {
	if g.fallback == nil || p == nil || g.fallback == p {
		return nil
	}
	if g.fallback.Name() == p.Name() && g.fallback.Model() == p.Model() {
		return nil
	}
	return g.fallback
}

// Health probes every configured provider, keyed by name.
func (g *Gateway) Health(ctx context.Context) map[string]bool {
	out := make(map[string]bool, 2)
	if g.primary != nil {
		out[g.primary.Name()] = g.primary.HealthCheck(ctx)
	}
	if g.fallback != nil {
		out[g.fallback.Name()] = g.fallback.HealthCheck(ctx)
	}
	return out
}
