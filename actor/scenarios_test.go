package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/actorcore/actor"
	"github.com/teranos/actorcore/codec"
	"github.com/teranos/actorcore/kv"
)

// testState/testConnState are the generic parameters used across the
// actor package's tests, standing in for whatever user types a real
// actor kind would define.
type testState struct {
	Count int64 `cbor:"count"`
}

type testConnState struct {
	Tag string `cbor:"tag"`
}

type incArgs struct {
	Amount int64 `cbor:"amount"`
}

func testConfig() actor.Config {
	cfg := actor.DefaultConfig()
	cfg.StateSaveInterval = 5 * time.Millisecond
	cfg.ActionTimeout = 2 * time.Second
	cfg.SleepTimeout = 40 * time.Millisecond
	return cfg
}

func testActions() map[string]actor.ActionFunc[testState, testConnState] {
	return map[string]actor.ActionFunc[testState, testConnState]{
		"increment": func(ctx context.Context, o *actor.Orchestrator[testState, testConnState], args []byte) (any, error) {
			var in incArgs
			if err := codec.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			var count int64
			err := o.Mutate(ctx, func(s *testState) {
				s.Count += in.Amount
				count = s.Count
			})
			return count, err
		},
		"getCount": func(ctx context.Context, o *actor.Orchestrator[testState, testConnState], args []byte) (any, error) {
			var count int64
			err := o.Mutate(ctx, func(s *testState) { count = s.Count })
			return count, err
		},
	}
}

func newTestOrchestrator(t *testing.T, driver kv.Driver, actorID string, hooks actor.Hooks[testState, testConnState]) *actor.Orchestrator[testState, testConnState] {
	t.Helper()
	o := actor.New(driver, actorID, "test", nil, "", testConfig(), hooks, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)
	return o
}

// A fresh actor incremented twice reports 2 and persists {count: 2}.
func TestCounterActionPersistsState(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-s1", actor.Hooks[testState, testConnState]{})

	args, err := codec.Marshal(incArgs{Amount: 1})
	require.NoError(t, err)

	_, err = o.ExecuteAction(context.Background(), "increment", args)
	require.NoError(t, err)
	result, err := o.ExecuteAction(context.Background(), "increment", args)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result)

	got, err := o.ExecuteAction(context.Background(), "getCount", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)

	// The first-create save (count 0) lands before the throttled save of
	// the two increments, so wait for the blob that carries them.
	require.Eventually(t, func() bool {
		entries, err := driver.KVBatchGet(context.Background(), "actor-s1", [][]byte{{0x01}})
		require.NoError(t, err)
		if len(entries) != 1 || entries[0].Value == nil {
			return false
		}
		var p actor.PersistedActor[testState, []byte]
		return codec.Unmarshal(entries[0].Value, &p) == nil && p.State.Count == 2
	}, time.Second, time.Millisecond)

	raw, err := driver.KVBatchGet(context.Background(), "actor-s1", [][]byte{{0x01}})
	require.NoError(t, err)
	var persisted actor.PersistedActor[testState, []byte]
	require.NoError(t, codec.Unmarshal(raw[0].Value, &persisted))
	assert.EqualValues(t, 2, persisted.State.Count)
}

// A hibernatable connection that drops uncleanly and reopens with the
// same request id keeps its connId and subscriptions; the in-memory
// conn count stays 1 and a later broadcast reaches the new driver.
func TestHibernatableReconnectPreservesConnection(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-s2", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	reqID := []byte("req-R")
	d1 := &fakeConnDriver{hibernatable: true, requestID: reqID}
	c1, err := o.PrepareConn(ctx, d1, nil)
	require.NoError(t, err)
	require.NoError(t, o.ConnectConn(ctx, c1))
	require.NoError(t, o.Subscribe(ctx, c1.ID, "foo"))

	// Unclean disconnect: driver dies, but the hibernatable connection
	// and its subscriptions survive pending reconnection.
	require.NoError(t, o.ConnDisconnected(ctx, c1.ID, false))

	d2 := &fakeConnDriver{hibernatable: true, requestID: reqID}
	c2, err := o.PrepareConn(ctx, d2, nil)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID, "reconnect must reuse the same connId")

	snap, ok := o.Inspector()
	require.True(t, ok)
	s, err := snap.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ConnCount, "conn count must stay 1 across the reconnect")

	require.NoError(t, o.Broadcast(ctx, "foo", []byte("payload")))
	assert.Equal(t, 1, d2.messageCount(), "broadcast must reach the reconnected driver")
	// d1 holds only the Init message from the first ConnectConn.
	assert.Equal(t, 1, d1.messageCount(), "the old driver must not receive anything after reconnect")
}

// Events scheduled out of order (A@t+200, B@t+100, C@t+150) run in
// timestamp order B, C, A when the alarm fires past all of them, and
// the timeline ends empty.
func TestScheduledEventsFireInTimestampOrder(t *testing.T) {
	driver := newMemDriver()
	var order []string
	hooks := actor.Hooks[testState, testConnState]{}
	o := actor.New(driver, "actor-s3", "test", nil, "", testConfig(), hooks, map[string]actor.ActionFunc[testState, testConnState]{
		"mark": func(ctx context.Context, o *actor.Orchestrator[testState, testConnState], args []byte) (any, error) {
			var name string
			_ = codec.Unmarshal(args, &name)
			order = append(order, name)
			return nil, nil
		},
	})
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)

	base := time.Now().Add(100 * time.Millisecond)
	ctx := context.Background()

	encName := func(n string) []byte {
		b, _ := codec.Marshal(n)
		return b
	}
	_, err := o.ScheduleEventAt(ctx, base.Add(200*time.Millisecond), "mark", encName("A"))
	require.NoError(t, err)
	_, err = o.ScheduleEventAt(ctx, base.Add(100*time.Millisecond), "mark", encName("B"))
	require.NoError(t, err)
	_, err = o.ScheduleEventAt(ctx, base.Add(150*time.Millisecond), "mark", encName("C"))
	require.NoError(t, err)

	// Fire the alarm as if the driver woke the actor at base+300ms.
	time.Sleep(time.Until(base.Add(300 * time.Millisecond)))
	require.NoError(t, o.OnAlarm(ctx))

	assert.Equal(t, []string{"B", "C", "A"}, order)

	snap, _ := o.Inspector()
	s, err := snap.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.ScheduledEvents)

	// Idempotent: a second OnAlarm with nothing new must not re-run anything.
	require.NoError(t, o.OnAlarm(ctx))
	assert.Equal(t, []string{"B", "C", "A"}, order)
}

// EnqueueAndWait blocks until a concurrent wait-receive picks the
// message up and Complete resolves it with the consumer's response;
// the queue drains back to size 0.
func TestEnqueueAndWaitResolvedByComplete(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-s4", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	type waitResult struct {
		resp []byte
		err  error
	}
	done := make(chan waitResult, 1)
	go func() {
		resp, err := o.EnqueueAndWait(ctx, "q", map[string]int{"x": 1}, 5*time.Second)
		done <- waitResult{resp: resp, err: err}
	}()

	var msgs []actor.QueueMessage
	require.Eventually(t, func() bool {
		var err error
		msgs, err = o.Receive(ctx, []string{"q"}, 1, time.Second, true)
		require.NoError(t, err)
		return len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	response, _ := codec.Marshal(map[string]bool{"ok": true})
	require.NoError(t, o.Complete(ctx, msgs[0].ID, response))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		var decoded map[string]bool
		require.NoError(t, codec.Unmarshal(r.resp, &decoded))
		assert.True(t, decoded["ok"])
	case <-time.After(2 * time.Second):
		t.Fatal("enqueueAndWait did not resolve")
	}

	snap, _ := o.Inspector()
	s, err := snap.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, s.QueueSize)
}

// A message in flight at crash time is recovered on restart with
// failureCount bumped to 1, inFlight cleared, and availableAt pushed
// out by the initial backoff.
func TestInFlightMessageRecoveredOnRestart(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-s5", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	id, err := o.Enqueue(ctx, "q", map[string]int{"x": 1})
	require.NoError(t, err)

	msgs, err := o.Receive(ctx, []string{"q"}, 1, 0, true)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, id, msgs[0].ID)

	// Simulate a crash: the backing store is frozen mid-in-flight, a
	// fresh orchestrator reloads against a cloned copy of it. Recovery
	// happens during Start, before any Receive call, and sets
	// availableAt into the future (backoff), so we read the recovered
	// row directly off the store rather than via Receive.
	restarted := driver.clone()
	before := time.Now()
	_ = newTestOrchestrator(t, restarted, "actor-s5", actor.Hooks[testState, testConnState]{})

	entries, err := restarted.KVBatchGet(ctx, "actor-s5", [][]byte{kv.QueueMessageKey(id)})
	require.NoError(t, err)
	require.NotNil(t, entries[0].Value)
	var recovered actor.QueueMessage
	require.NoError(t, codec.Unmarshal(entries[0].Value, &recovered))

	assert.Equal(t, id, recovered.ID)
	assert.Equal(t, 1, recovered.FailureCount)
	assert.False(t, recovered.InFlight)
	assert.WithinDuration(t, before.Add(1*time.Second), recovered.AvailableAt, 500*time.Millisecond)
}

// An idle actor asks the driver to sleep exactly once shortly after
// its last activity; opening a connection before the timer fires
// cancels the pending sleep.
func TestIdleActorSleepsAndConnectionCancelsIt(t *testing.T) {
	driver := newMemDriver()
	cfg := testConfig()
	cfg.SleepTimeout = 40 * time.Millisecond
	o := actor.New(driver, "actor-s6-a", "test", nil, "", cfg, actor.Hooks[testState, testConnState]{}, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return driver.sleepCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, driver.sleepCount())

	// A second orchestrator: opening a connection before the timer
	// fires must cancel the pending sleep.
	driver2 := newMemDriver()
	o2 := actor.New(driver2, "actor-s6-b", "test", nil, "", cfg, actor.Hooks[testState, testConnState]{}, testActions())
	require.NoError(t, o2.Start(context.Background()))
	require.Eventually(t, func() bool { return o2.State() == actor.StateStarted }, time.Second, time.Millisecond)

	c, err := o2.PrepareConn(context.Background(), &fakeConnDriver{}, nil)
	require.NoError(t, err)
	require.NoError(t, o2.ConnectConn(context.Background(), c))

	time.Sleep(cfg.SleepTimeout + 30*time.Millisecond)
	assert.Equal(t, 0, driver2.sleepCount(), "an active connection must prevent sleep")
}
