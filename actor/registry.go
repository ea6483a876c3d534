package actor

import (
	"context"
	"sync"

	"github.com/teranos/actorcore/kv"
)

// Factory builds a fresh, unstarted Orchestrator for actorID. The
// registry calls it at most once per actorID.
type Factory[S any, CS any] func(actorID string) *Orchestrator[S, CS]

// Registry loads actors on demand and holds them while active. Reads
// vastly outnumber load/evict writes, so it is backed by sync.Map
// rather than a mutex-guarded plain map.
type Registry[S any, CS any] struct {
	driver  kv.Driver
	factory Factory[S, CS]
	live    sync.Map // actorID -> *Orchestrator[S, CS]
	loading sync.Map // actorID -> chan struct{}, closed once loaded
}

// NewRegistry constructs a Registry that builds orchestrators with factory.
func NewRegistry[S any, CS any](driver kv.Driver, factory Factory[S, CS]) *Registry[S, CS] {
	return &Registry[S, CS]{driver: driver, factory: factory}
}

// Get returns the live orchestrator for actorID, starting it first if
// this is the first request to see it.
func (r *Registry[S, CS]) Get(ctx context.Context, actorID string) (*Orchestrator[S, CS], error) {
	if v, ok := r.live.Load(actorID); ok {
		return v.(*Orchestrator[S, CS]), nil
	}

	done := make(chan struct{})
	actual, loaded := r.loading.LoadOrStore(actorID, done)
	if loaded {
		<-actual.(chan struct{})
		v, ok := r.live.Load(actorID)
		if !ok {
			return nil, Ef(KindInternal, "actor %q failed to start", actorID)
		}
		return v.(*Orchestrator[S, CS]), nil
	}
	defer func() {
		r.loading.Delete(actorID)
		close(done)
	}()

	o := r.factory(actorID)
	if err := o.Start(ctx); err != nil {
		return nil, err
	}
	r.live.Store(actorID, o)
	return o, nil
}

// Evict removes actorID from the live set, e.g. after it sleeps or is
// destroyed. It does not stop the orchestrator; callers must have
// already called OnStop.
func (r *Registry[S, CS]) Evict(actorID string) {
	r.live.Delete(actorID)
}
