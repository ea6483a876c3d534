package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/actorcore/actor"
	"github.com/teranos/actorcore/kv"
)

func TestQueue_FIFOOrderAcrossReceive(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-1", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	for _, body := range []string{"first", "second", "third"} {
		_, err := o.Enqueue(ctx, "jobs", body)
		require.NoError(t, err)
	}

	msgs, err := o.Receive(ctx, []string{"jobs"}, 3, 0, false)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Less(t, msgs[0].ID, msgs[1].ID)
	assert.Less(t, msgs[1].ID, msgs[2].ID)

	snap, _ := o.Inspector()
	s, err := snap.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.QueueSize, "non-wait receive removes consumed messages")
}

func TestQueue_FullRejectsEnqueue(t *testing.T) {
	driver := newMemDriver()
	cfg := testConfig()
	cfg.MaxQueueSize = 2
	o := actor.New(driver, "actor-q-2", "test", nil, "", cfg, actor.Hooks[testState, testConnState]{}, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)
	ctx := context.Background()

	_, err := o.Enqueue(ctx, "jobs", 1)
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, "jobs", 2)
	require.NoError(t, err)

	_, err = o.Enqueue(ctx, "jobs", 3)
	require.Error(t, err)
	assert.True(t, actor.IsKind(err, actor.KindQueueFull))
}

func TestQueue_OversizedBodyRejected(t *testing.T) {
	driver := newMemDriver()
	cfg := testConfig()
	cfg.MaxQueueMessageSize = 16
	o := actor.New(driver, "actor-q-3", "test", nil, "", cfg, actor.Hooks[testState, testConnState]{}, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)

	_, err := o.Enqueue(context.Background(), "jobs", "this body encodes to more than sixteen bytes")
	require.Error(t, err)
	assert.True(t, actor.IsKind(err, actor.KindQueueMessageTooLarge))
}

func TestQueue_UnserializableBodyRejected(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-4", actor.Hooks[testState, testConnState]{})

	_, err := o.Enqueue(context.Background(), "jobs", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.True(t, actor.IsKind(err, actor.KindQueueMessageInvalid))
}

func TestQueue_SecondWaitReceiveWhilePendingFails(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-5", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	_, err := o.Enqueue(ctx, "jobs", 1)
	require.NoError(t, err)
	_, err = o.Enqueue(ctx, "jobs", 2)
	require.NoError(t, err)

	msgs, err := o.Receive(ctx, []string{"jobs"}, 1, 0, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, err = o.Receive(ctx, []string{"jobs"}, 1, 0, true)
	require.Error(t, err)
	assert.True(t, actor.IsKind(err, actor.KindQueueMessagePending))
}

func TestQueue_CompleteWrongIDFails(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-6", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	id, err := o.Enqueue(ctx, "jobs", 1)
	require.NoError(t, err)

	// Nothing is in flight yet.
	err = o.Complete(ctx, id, nil)
	require.Error(t, err)
	assert.True(t, actor.IsKind(err, actor.KindQueueAlreadyCompleted))

	msgs, err := o.Receive(ctx, []string{"jobs"}, 1, 0, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	err = o.Complete(ctx, msgs[0].ID+100, nil)
	require.Error(t, err)
	assert.True(t, actor.IsKind(err, actor.KindQueueAlreadyCompleted))

	require.NoError(t, o.Complete(ctx, msgs[0].ID, nil))
}

func TestQueue_ZeroTimeoutReturnsImmediatelyEmpty(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-7", actor.Hooks[testState, testConnState]{})

	msgs, err := o.Receive(context.Background(), []string{"nothing"}, 1, 0, false)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestQueue_BlockedReceiveWokenByEnqueue(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-8", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	type recvResult struct {
		msgs []actor.QueueMessage
		err  error
	}
	done := make(chan recvResult, 1)
	go func() {
		msgs, err := o.Receive(ctx, []string{"jobs"}, 1, 2*time.Second, false)
		done <- recvResult{msgs: msgs, err: err}
	}()

	// Give the receiver time to register its waiter before enqueueing.
	time.Sleep(20 * time.Millisecond)
	_, err := o.Enqueue(ctx, "jobs", "payload")
	require.NoError(t, err)

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Len(t, r.msgs, 1)
		assert.Equal(t, "jobs", r.msgs[0].Name)
	case <-time.After(time.Second):
		t.Fatal("blocked receive was not woken by the enqueue")
	}
}

func TestQueue_MetadataRebuiltFromScanWhenMissing(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-9", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	id1, err := o.Enqueue(ctx, "jobs", 1)
	require.NoError(t, err)
	id2, err := o.Enqueue(ctx, "jobs", 2)
	require.NoError(t, err)

	// Simulate metadata corruption: delete the metadata row, then
	// restart against a clone of the store.
	restarted := driver.clone()
	require.NoError(t, restarted.KVBatchDelete(ctx, "actor-q-9", [][]byte{kv.QueueMetadataKey()}))

	o2 := newTestOrchestrator(t, restarted, "actor-q-9", actor.Hooks[testState, testConnState]{})
	snap, _ := o2.Inspector()
	s, err := snap.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.QueueSize)

	// nextId must have been rebuilt past the highest surviving id.
	id3, err := o2.Enqueue(ctx, "jobs", 3)
	require.NoError(t, err)
	assert.Greater(t, id3, id2)
	assert.Greater(t, id3, id1)
}

func TestQueue_BlockedWaitReceiveWokenByEnqueueAndWait(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-q-10", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	type recvResult struct {
		msgs []actor.QueueMessage
		err  error
	}
	recvDone := make(chan recvResult, 1)
	go func() {
		msgs, err := o.Receive(ctx, []string{"q"}, 1, 2*time.Second, true)
		recvDone <- recvResult{msgs: msgs, err: err}
	}()

	// Let the receiver block on its waiter before the producer runs.
	time.Sleep(20 * time.Millisecond)

	type waitResult struct {
		resp []byte
		err  error
	}
	waitDone := make(chan waitResult, 1)
	go func() {
		resp, err := o.EnqueueAndWait(ctx, "q", map[string]int{"x": 1}, 5*time.Second)
		waitDone <- waitResult{resp: resp, err: err}
	}()

	var received actor.QueueMessage
	select {
	case r := <-recvDone:
		require.NoError(t, r.err)
		require.Len(t, r.msgs, 1, "a waiter blocked before EnqueueAndWait must be woken by it")
		received = r.msgs[0]
	case <-time.After(time.Second):
		t.Fatal("blocked wait-receive was never woken by EnqueueAndWait")
	}

	require.NoError(t, o.Complete(ctx, received.ID, []byte("done")))

	select {
	case r := <-waitDone:
		require.NoError(t, r.err)
		assert.Equal(t, []byte("done"), r.resp)
	case <-time.After(time.Second):
		t.Fatal("enqueueAndWait did not resolve after Complete")
	}
}
