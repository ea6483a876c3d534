package actor_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/actorcore/actor"
)

func TestRegistry_GetStartsOnlyOnce(t *testing.T) {
	driver := newMemDriver()
	var builds int32

	reg := actor.NewRegistry(driver, func(actorID string) *actor.Orchestrator[testState, testConnState] {
		atomic.AddInt32(&builds, 1)
		return actor.New(driver, actorID, "test", nil, "", testConfig(), actor.Hooks[testState, testConnState]{}, testActions())
	})

	ctx := context.Background()
	o1, err := reg.Get(ctx, "actor-reg-1")
	require.NoError(t, err)
	o2, err := reg.Get(ctx, "actor-reg-1")
	require.NoError(t, err)

	assert.Same(t, o1, o2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
}

func TestRegistry_ConcurrentGetDeduplicatesLoad(t *testing.T) {
	driver := newMemDriver()
	var builds int32

	reg := actor.NewRegistry(driver, func(actorID string) *actor.Orchestrator[testState, testConnState] {
		atomic.AddInt32(&builds, 1)
		return actor.New(driver, actorID, "test", nil, "", testConfig(), actor.Hooks[testState, testConnState]{}, testActions())
	})

	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	results := make([]*actor.Orchestrator[testState, testConnState], n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := reg.Get(ctx, "actor-reg-concurrent")
			require.NoError(t, err)
			results[i] = o
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
}

func TestRegistry_EvictForcesReload(t *testing.T) {
	driver := newMemDriver()
	var builds int32

	reg := actor.NewRegistry(driver, func(actorID string) *actor.Orchestrator[testState, testConnState] {
		atomic.AddInt32(&builds, 1)
		return actor.New(driver, actorID, "test", nil, "", testConfig(), actor.Hooks[testState, testConnState]{}, testActions())
	})

	ctx := context.Background()
	o1, err := reg.Get(ctx, "actor-reg-2")
	require.NoError(t, err)

	reg.Evict("actor-reg-2")

	o2, err := reg.Get(ctx, "actor-reg-2")
	require.NoError(t, err)

	assert.NotSame(t, o1, o2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
}
