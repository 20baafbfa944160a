package provider

import (
	"context"
	"io"
	"sync"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

// Emit hands one event to the consumer. It returns false once the consumer
// has gone away and the producer should stop.
type Emit func(models.StreamEvent) bool

// Produce pushes events for a single request. It should emit exactly one
// terminal event; Go supplies one if it returns without doing so.
type Produce func(ctx context.Context, emit Emit)

type channelStream struct {
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan models.StreamEvent
	finished chan struct{}

	terminated bool
	closeOnce  sync.Once
}

// Go runs produce on its own goroutine and exposes its output as a Stream.
// Backends with callback or push style SDKs use it to satisfy the pull contract.
func Go(ctx context.Context, produce Produce) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &channelStream{
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan models.StreamEvent),
		finished: make(chan struct{}),
	}

	go func() {
		defer close(s.finished)
		defer close(s.events)
		produce(ctx, func(ev models.StreamEvent) bool {
			select {
			case s.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	return s
}

func (s *channelStream) Recv() (models.StreamEvent, error) {
	if s.terminated {
		return models.StreamEvent{}, io.EOF
	}

	select {
	case ev, ok := <-s.events:
		if !ok {
			s.terminated = true
			if err := s.ctx.Err(); err != nil {
				return models.StreamEvent{}, err
			}
			return models.ErrorEvent(models.ErrorKindProvider, "provider stream ended without a terminal event"), nil
		}
		if ev.Terminal() {
			s.terminated = true
			s.cancel()
		}
		return ev, nil
	case <-s.ctx.Done():
		s.terminated = true
		return models.StreamEvent{}, s.ctx.Err()
	}
}

// Close cancels the producer and waits for it to return.
func (s *channelStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.finished
	})
	return nil
}

// Events replays a fixed sequence. It is useful for backends that fail before
// any network call.
func Events(events ...models.StreamEvent) Stream {
	return &sliceStream{events: events}
}

type sliceStream struct {
	events []models.StreamEvent
	pos    int
}

func (s *sliceStream) Recv() (models.StreamEvent, error) {
	if s.pos >= len(s.events) {
		return models.StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	if ev.Terminal() {
		s.pos = len(s.events)
	}
	return ev, nil
}

func (s *sliceStream) Close() error {
	return nil
}
