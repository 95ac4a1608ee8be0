package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrMissingStreamID = errors.New("session: stream id required")
	ErrDraining        = errors.New("session: registry is draining")
)

// Factory builds the orchestrator for a new call.
type Factory func(id Identity) (*Orchestrator, error)

type entry struct {
	orch    *Orchestrator
	created time.Time
}

// Registry tracks live calls by stream id. Each orchestrator runs in its own
// goroutine and removes itself when Run returns.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  Factory
	draining atomic.Bool
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory}
}

// GetOrCreate returns the orchestrator for id.StreamID, starting a new one
// under ctx when none exists. The bool reports whether it was created.
func (r *Registry) GetOrCreate(ctx context.Context, id Identity) (*Orchestrator, bool, error) {
	if id.StreamID == "" {
		return nil, false, ErrMissingStreamID
	}
	if v, ok := r.sessions.Load(id.StreamID); ok {
		return v.(*entry).orch, false, nil
	}
	if r.draining.Load() {
		return nil, false, ErrDraining
	}
	orch, err := r.factory(id)
	if err != nil {
		return nil, false, err
	}
	e := &entry{orch: orch, created: time.Now()}
	actual, loaded := r.sessions.LoadOrStore(id.StreamID, e)
	if loaded {
		orch.Stop()
		return actual.(*entry).orch, false, nil
	}
	r.count.Add(1)
	go func() {
		_ = orch.Run(ctx)
		if r.sessions.CompareAndDelete(id.StreamID, e) {
			r.count.Add(-1)
		}
	}()
	return orch, true, nil
}

func (r *Registry) Get(streamID string) (*Orchestrator, bool) {
	if v, ok := r.sessions.Load(streamID); ok {
		return v.(*entry).orch, true
	}
	return nil, false
}

// Remove stops the call; the entry disappears once its orchestrator returns.
func (r *Registry) Remove(streamID string) {
	if v, ok := r.sessions.Load(streamID); ok {
		v.(*entry).orch.Stop()
	}
}

func (r *Registry) CloseAll() {
	r.sessions.Range(func(_, value any) bool {
		value.(*entry).orch.Stop()
		return true
	})
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
