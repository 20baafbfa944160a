// Package providertest offers a scripted provider for exercising stream consumers.
package providertest

import (
	"context"
	"sync"

	"github.com/deepgram/colloquy/internal/services/chat/models"
	"github.com/deepgram/colloquy/internal/services/provider"
)

// Step is one scripted action. When Block is set the provider waits for the
// request context to be cancelled instead of emitting Event.
type Step struct {
	Event  models.StreamEvent
	Block  bool
	Before func()
}

// Scripted plays one script per request and records what it was sent. Once
// the scripts run out the last one repeats.
type Scripted struct {
	Label   string
	Default string
	Healthy bool

	mu       sync.Mutex
	scripts  [][]Step
	requests [][]models.Turn
	options  []provider.Options
	closed   int
}

// New returns a provider whose first request replays events.
func New(label, model string, events ...models.StreamEvent) *Scripted {
	p := &Scripted{Label: label, Default: model, Healthy: true}
	return p.Then(events...)
}

// NewSteps returns a provider whose first request runs steps.
func NewSteps(label, model string, steps ...Step) *Scripted {
	p := &Scripted{Label: label, Default: model, Healthy: true}
	return p.ThenSteps(steps...)
}

// Then adds a script of plain events for the next request.
func (p *Scripted) Then(events ...models.StreamEvent) *Scripted {
	steps := make([]Step, len(events))
	for i, ev := range events {
		steps[i] = Step{Event: ev}
	}
	return p.ThenSteps(steps...)
}

// ThenSteps adds a script for the next request.
func (p *Scripted) ThenSteps(steps ...Step) *Scripted {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts = append(p.scripts, steps)
	return p
}

func (p *Scripted) Name() string  { return p.Label }
func (p *Scripted) Model() string { return p.Default }

func (p *Scripted) HealthCheck(ctx context.Context) bool {
	return p.Healthy
}

func (p *Scripted) StreamChat(ctx context.Context, turns []models.Turn, opts provider.Options) provider.Stream {
	p.mu.Lock()
	call := len(p.requests)
	p.requests = append(p.requests, turns)
	p.options = append(p.options, opts)
	var steps []Step
	if len(p.scripts) > 0 {
		steps = p.scripts[min(call, len(p.scripts)-1)]
	}
	p.mu.Unlock()

	return &recordingStream{
		Stream: provider.Go(ctx, func(ctx context.Context, emit provider.Emit) {
			for _, step := range steps {
				if step.Before != nil {
					step.Before()
				}
				if step.Block {
					<-ctx.Done()
					return
				}
				if !emit(step.Event) {
					return
				}
				if step.Event.Terminal() {
					return
				}
			}
		}),
		owner: p,
	}
}

// Requests returns the turns of every request made so far.
func (p *Scripted) Requests() [][]models.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]models.Turn(nil), p.requests...)
}

func (p *Scripted) Options() []provider.Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Options(nil), p.options...)
}

// Closed counts streams whose Close was called.
func (p *Scripted) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type recordingStream struct {
	provider.Stream
	owner *Scripted
	once  sync.Once
}

func (s *recordingStream) Close() error {
	err := s.Stream.Close()
	s.once.Do(func() {
		s.owner.mu.Lock()
		s.owner.closed++
		s.owner.mu.Unlock()
	})
	return err
}
