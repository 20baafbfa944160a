// Package registry tracks in-flight chat streams so shutdown can cancel them
// and wait for their cleanup.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/deepgram/colloquy/pkg/logger"
)

var ErrShuttingDown = errors.New("server is shutting down")

// ActiveStream is the cancellation handle of one orchestration call.
type ActiveStream struct {
	ID       string
	cancel   context.CancelFunc
	released chan struct{}
	once     sync.Once
	registry *Registry
}

// Cancel asks the stream to stop. It does not wait for cleanup.
func (a *ActiveStream) Cancel() {
	a.cancel()
}

// Release deregisters the stream and acknowledges that its cleanup is done.
// It is safe to call more than once.
func (a *ActiveStream) Release() {
	a.once.Do(func() {
		a.registry.remove(a)
		a.cancel()
		close(a.released)
	})
}

// Done is closed once the stream has been released.
func (a *ActiveStream) Done() <-chan struct{} {
	return a.released
}

type Registry struct {
	streams  sync.Map
	mu       sync.RWMutex
	draining bool
}

func New() *Registry {
	return &Registry{}
}

// Track registers a stream and returns a context that is cancelled by Cancel
// or Shutdown. The caller must Release the handle when it reaches a terminal state.
func (r *Registry) Track(ctx context.Context, id string) (context.Context, *ActiveStream, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.draining {
		return nil, nil, ErrShuttingDown
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := &ActiveStream{
		ID:       id,
		cancel:   cancel,
		released: make(chan struct{}),
		registry: r,
	}
	if _, loaded := r.streams.LoadOrStore(id, stream); loaded {
		cancel()
		return nil, nil, fmt.Errorf("stream %s is already registered", id)
	}

	logger.Debug(logger.REGISTRY, "Tracking stream %s", id)
	return ctx, stream, nil
}

func (r *Registry) remove(a *ActiveStream) {
	r.streams.CompareAndDelete(a.ID, a)
	logger.Debug(logger.REGISTRY, "Released stream %s", a.ID)
}

// Cancel signals the stream with the given id, if it is still active.
func (r *Registry) Cancel(id string) bool {
	v, ok := r.streams.Load(id)
	if !ok {
		return false
	}
	v.(*ActiveStream).Cancel()
	return true
}

func (r *Registry) Count() int {
	count := 0
	r.streams.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

func (r *Registry) Has(id string) bool {
	_, ok := r.streams.Load(id)
	return ok
}

// Shutdown refuses new streams, cancels every active one and waits until all
// have been released. If ctx expires first it returns an error naming how
// many streams were still running.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	var active []*ActiveStream
	r.streams.Range(func(key, value interface{}) bool {
		active = append(active, value.(*ActiveStream))
		return true
	})

	logger.Info(logger.REGISTRY, "Cancelling %d active streams", len(active))
	for _, stream := range active {
		stream.Cancel()
	}

	for _, stream := range active {
		select {
		case <-stream.Done():
		case <-ctx.Done():
			remaining := r.Count()
			logger.Warn(logger.REGISTRY, "Shutdown deadline reached with %d streams still active", remaining)
			return fmt.Errorf("%d streams still active: %w", remaining, ctx.Err())
		}
	}

	logger.Info(logger.REGISTRY, "All streams released")
	return nil
}
