package actor

import (
	"context"
	"time"
)

// sleepState holds the Sleep Arbiter's timer and the counters that
// resetSleepTimer consults beyond what's already tracked elsewhere on
// the orchestrator (conns, queue waiters, run-handler status).
type sleepState struct {
	timer              *time.Timer
	keepAwakeCount     int
	httpRequestCount   int
	pendingDisconnects int
	armed              bool
	oneShot            bool // startSleep has already fired once
}

// CanSleep evaluates the sleep-readiness predicate.
func (o *Orchestrator[S, CS]) CanSleep() CanSleepReason {
	switch o.State() {
	case StateLoading:
		return CanSleepNotReady
	case StateReady:
		return CanSleepNotStarted
	case StateStopping, StateStopped:
		return CanSleepNotReady
	}
	if o.cfg.NoSleep {
		return CanSleepNotStarted
	}
	if o.slp.httpRequestCount > 0 {
		return CanSleepActiveHonoHTTPRequests
	}
	if o.slp.keepAwakeCount > 0 {
		return CanSleepActiveKeepAwake
	}
	if o.hooks.Run != nil && !o.runExited {
		if len(o.queue.receiveWaiters) == 0 {
			return CanSleepActiveRun
		}
	}
	if len(o.conns) > 0 {
		return CanSleepActiveConns
	}
	if o.slp.pendingDisconnects > 0 {
		return CanSleepActiveDisconnectCallbacks
	}
	return CanSleepYes
}

// resetSleepTimerLocked is called from every state transition that
// could affect sleep eligibility (connect, disconnect, keep-awake
// edges, queue activity). Only CanSleepYes arms a timer; any other
// reason cancels whatever was armed.
func (o *Orchestrator[S, CS]) resetSleepTimerLocked() {
	if o.slp.timer != nil {
		o.slp.timer.Stop()
		o.slp.timer = nil
		o.slp.armed = false
	}
	// Any eligibility edge supersedes a previously fired (but not yet
	// acted-on) sleep request; allow the arbiter to fire again later.
	o.slp.oneShot = false
	if o.cfg.NoSleep {
		return
	}
	if o.CanSleep() != CanSleepYes {
		return
	}
	o.slp.armed = true
	o.slp.timer = time.AfterFunc(o.cfg.SleepTimeout, func() {
		o.submitFireAndForget(func(ctx context.Context) (any, error) {
			return nil, o.fireSleepLocked(ctx)
		})
	})
}

func (o *Orchestrator[S, CS]) fireSleepLocked(ctx context.Context) error {
	if !o.slp.armed || o.slp.oneShot || o.CanSleep() != CanSleepYes {
		return nil
	}
	o.slp.armed = false
	ok, err := o.facade.StartSleep(ctx)
	if err != nil {
		o.log.Errorw("startSleep failed", "error", err.Error())
		return err
	}
	if ok {
		// One startSleep per idle period; the driver answers with
		// OnStop("sleep"), or activity resets the flag above.
		o.slp.oneShot = true
	}
	return nil
}

// ScheduleKeepAwake runs fn while incrementing the keep-awake counter,
// preventing sleep for its duration. The sleep timer is reset on both
// the increment and the decrement edge.
func (o *Orchestrator[S, CS]) ScheduleKeepAwake(ctx context.Context, fn func(context.Context) error) error {
	return o.trackCounter(ctx, &o.slp.keepAwakeCount, fn)
}

// TrackHTTPRequest brackets a raw transport request the host holds open
// outside executeAction (a long-poll, a streamed response), keeping the
// actor awake for its duration.
func (o *Orchestrator[S, CS]) TrackHTTPRequest(ctx context.Context, fn func(context.Context) error) error {
	return o.trackCounter(ctx, &o.slp.httpRequestCount, fn)
}

func (o *Orchestrator[S, CS]) trackCounter(ctx context.Context, counter *int, fn func(context.Context) error) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		*counter++
		o.resetSleepTimerLocked()
		return nil, nil
	})
	if err != nil {
		return err
	}

	fnErr := fn(ctx)

	_, err = o.submit(ctx, func(ctx context.Context) (any, error) {
		*counter--
		o.resetSleepTimerLocked()
		return nil, nil
	})
	if err != nil {
		return err
	}
	return fnErr
}
