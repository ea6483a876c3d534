package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/actorcore/actor"
)

func TestSleep_NoSleepConfigNeverArms(t *testing.T) {
	driver := newMemDriver()
	cfg := testConfig()
	cfg.NoSleep = true
	o := actor.New(driver, "actor-sleep-1", "test", nil, "", cfg, actor.Hooks[testState, testConnState]{}, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)

	assert.Equal(t, actor.CanSleepNotStarted, o.CanSleep())

	time.Sleep(cfg.SleepTimeout + 20*time.Millisecond)
	assert.Equal(t, 0, driver.sleepCount())
}

func TestSleep_KeepAwakeBlocksSleepForItsDuration(t *testing.T) {
	driver := newMemDriver()
	cfg := testConfig()
	o := actor.New(driver, "actor-sleep-2", "test", nil, "", cfg, actor.Hooks[testState, testConnState]{}, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)

	ctx := context.Background()
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = o.ScheduleKeepAwake(ctx, func(ctx context.Context) error {
			<-release
			return nil
		})
		close(done)
	}()

	// while held, the sleep timer must never fire even past SleepTimeout
	time.Sleep(cfg.SleepTimeout + 20*time.Millisecond)
	assert.Equal(t, 0, driver.sleepCount())

	close(release)
	<-done

	// after release, the arbiter re-arms and eventually sleeps
	require.Eventually(t, func() bool { return driver.sleepCount() == 1 }, time.Second, time.Millisecond)
}

func TestSleep_ActiveConnsReasonWhileConnected(t *testing.T) {
	driver := newMemDriver()
	o := newTestOrchestrator(t, driver, "actor-sleep-3", actor.Hooks[testState, testConnState]{})
	ctx := context.Background()

	conn := &fakeConnDriver{}
	c, err := o.PrepareConn(ctx, conn, nil)
	require.NoError(t, err)
	require.NoError(t, o.ConnectConn(ctx, c))

	assert.Equal(t, actor.CanSleepActiveConns, o.CanSleep())
}

func TestSleep_TrackedHTTPRequestBlocksSleep(t *testing.T) {
	driver := newMemDriver()
	cfg := testConfig()
	o := actor.New(driver, "actor-sleep-4", "test", nil, "", cfg, actor.Hooks[testState, testConnState]{}, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)

	ctx := context.Background()
	release := make(chan struct{})
	inFlight := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = o.TrackHTTPRequest(ctx, func(ctx context.Context) error {
			close(inFlight)
			<-release
			return nil
		})
		close(done)
	}()

	<-inFlight
	assert.Equal(t, actor.CanSleepActiveHonoHTTPRequests, o.CanSleep())

	time.Sleep(cfg.SleepTimeout + 20*time.Millisecond)
	assert.Equal(t, 0, driver.sleepCount())

	close(release)
	<-done
	require.Eventually(t, func() bool { return driver.sleepCount() == 1 }, time.Second, time.Millisecond)
}

func TestSleep_PendingOnDisconnectBlocksSleep(t *testing.T) {
	driver := newMemDriver()
	cfg := testConfig()
	release := make(chan struct{})
	hooks := actor.Hooks[testState, testConnState]{
		OnDisconnect: func(ctx context.Context, c *actor.Conn[testConnState], clean bool) error {
			<-release
			return nil
		},
	}
	o := actor.New(driver, "actor-sleep-5", "test", nil, "", cfg, hooks, testActions())
	require.NoError(t, o.Start(context.Background()))
	require.Eventually(t, func() bool { return o.State() == actor.StateStarted }, time.Second, time.Millisecond)
	ctx := context.Background()

	c, err := o.PrepareConn(ctx, &fakeConnDriver{}, nil)
	require.NoError(t, err)
	require.NoError(t, o.ConnectConn(ctx, c))
	require.NoError(t, o.ConnDisconnected(ctx, c.ID, true))

	assert.Equal(t, actor.CanSleepActiveDisconnectCallbacks, o.CanSleep())
	time.Sleep(cfg.SleepTimeout + 20*time.Millisecond)
	assert.Equal(t, 0, driver.sleepCount(), "an unsettled onDisconnect callback must prevent sleep")

	close(release)
	require.Eventually(t, func() bool { return driver.sleepCount() == 1 }, time.Second, time.Millisecond)
}
