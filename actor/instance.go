package actor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/actorcore/codec"
	"github.com/teranos/actorcore/kv"
	"github.com/teranos/actorcore/logger"
)

// ActionFunc is a named, callable server-side action. args is the
// CBOR-encoded request payload; the returned value is CBOR-encoded
// before being sent back over the framed protocol.
type ActionFunc[S any, CS any] func(ctx context.Context, o *Orchestrator[S, CS], args []byte) (any, error)

// Hooks collects the optional lifecycle callbacks an actor kind may
// supply. All fields may be left nil; a nil hook is simply skipped.
type Hooks[S any, CS any] struct {
	CreateState     func(ctx context.Context, input []byte) (S, error)
	OnCreate        Hook
	OnWake          Hook
	OnSleep         Hook
	OnDestroy       Hook
	CreateConnState func(ctx context.Context, params []byte) (CS, error)
	OnBeforeConnect func(ctx context.Context, params []byte) error
	OnConnect       func(ctx context.Context, c *Conn[CS]) error
	OnDisconnect    func(ctx context.Context, c *Conn[CS], clean bool) error
	OnStateChange   func(ctx context.Context, state S)

	// OnBeforeActionResponse may rewrite an action's result before it is
	// sent to the caller. Its own errors are logged and the original
	// result is returned unchanged.
	OnBeforeActionResponse func(ctx context.Context, action string, result any) (any, error)

	// Run, if set, is launched once after the orchestrator reaches
	// Started. Its exit (success or error) while the orchestrator is not
	// already stopping triggers a destroy.
	Run func(ctx context.Context, o *Orchestrator[S, CS]) error

	OnRequest   func(ctx context.Context, c *Conn[CS], req []byte) ([]byte, error)
	OnWebSocket func(ctx context.Context, c *Conn[CS], ws ConnDriver, req []byte) error
}

// Inspector is the optional introspection surface an Orchestrator may
// expose. Access to it is not gated by the per-actor inspector token.
type Inspector interface {
	Snapshot(ctx context.Context) (InspectorSnapshot, error)
}

// InspectorSnapshot is a point-in-time readout for debugging.
type InspectorSnapshot struct {
	ActorID         string
	State           State
	ConnCount       int
	ScheduledEvents int
	QueueSize       int
}

// insideExecutorKey tags a context handed to job.fn by run(), so that
// submit can tell a reentrant call (an action or hook calling back into
// Mutate, Broadcast, and friends with the ctx it was itself given) from
// an external one. Reentrant calls run inline instead of enqueueing,
// since run() is already blocked on this exact call stack and would
// never get back around to servicing its own queue otherwise.
type ctxKey int

const insideExecutorKey ctxKey = 0

func withInsideExecutor(ctx context.Context) context.Context {
	return context.WithValue(ctx, insideExecutorKey, true)
}

func isInsideExecutor(ctx context.Context) bool {
	v, _ := ctx.Value(insideExecutorKey).(bool)
	return v
}

// job is one unit of serialized work submitted to the orchestrator's
// single executor goroutine.
type job struct {
	fn   func(ctx context.Context) (any, error)
	resp chan jobResult
}

type jobResult struct {
	val any
	err error
}

// Orchestrator owns one actor's entire lifecycle and every object it
// contains. S is the user state type; CS is the per-connection state
// type. All mutation happens inside run(), the single goroutine reading
// from work. A channel rather than a mutex-guarded core because strict
// per-connection FIFO ordering, not just mutual exclusion, is required.
type Orchestrator[S any, CS any] struct {
	actorID string
	name    string
	key     []string
	region  string

	facade  *kv.Facade
	driver  kv.Driver
	cfg     Config
	hooks   Hooks[S, CS]
	actions map[string]ActionFunc[S, CS]

	state   atomic.Int32 // State
	work    chan job
	stopped chan struct{}

	// runDone is closed by runUserRun the instant hooks.Run returns,
	// independent of the serial executor — doStop (itself running as a
	// job on that executor) joins on this instead of on the executor's
	// own exit, which it could never observe from inside itself.
	runDone chan struct{}

	abortCtx    context.Context
	abortCancel context.CancelFunc
	// execCtx is abortCtx tagged with insideExecutorKey. run() invokes
	// every job with this context so that actions and hooks — which
	// receive it as their own ctx argument — can be told apart from an
	// external caller when they in turn call back into submit.
	execCtx context.Context

	log *zap.SugaredLogger

	// --- fields below are only ever touched from inside run() ---
	actorState      S
	hasInitialized  bool
	scheduledEvents []ScheduleEvent

	conns         map[string]*Conn[CS]
	subscriptions map[string]map[string]bool // eventName -> connID set

	queue *queueState

	sched scheduleState
	slp   sleepState

	runExited bool

	// --- State Manager bookkeeping (also only touched inside run()) ---
	actorDirty   bool
	dirtyConns   map[string]bool
	saveQueue    kv.WriteQueue
	saveTimer    *time.Timer
	lastSaveTime time.Time
	saveDeadline time.Time

	stateChangeDepth int
}

// New constructs an Orchestrator for actorID. It does not start it;
// call Start to load KV state and run onCreate/onWake.
func New[S any, CS any](driver kv.Driver, actorID, name string, key []string, region string, cfg Config, hooks Hooks[S, CS], actions map[string]ActionFunc[S, CS]) *Orchestrator[S, CS] {
	abortCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator[S, CS]{
		actorID:       actorID,
		name:          name,
		key:           key,
		region:        region,
		facade:        kv.New(driver, actorID),
		driver:        driver,
		cfg:           cfg,
		hooks:         hooks,
		actions:       actions,
		work:          make(chan job, 64),
		stopped:       make(chan struct{}),
		runDone:       make(chan struct{}),
		abortCtx:      abortCtx,
		abortCancel:   cancel,
		execCtx:       withInsideExecutor(abortCtx),
		conns:         make(map[string]*Conn[CS]),
		dirtyConns:    make(map[string]bool),
		subscriptions: make(map[string]map[string]bool),
		log:           logger.ComponentLogger("actor." + name),
	}
	o.state.Store(int32(StateLoading))
	o.queue = newQueueState()
	return o
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator[S, CS]) State() State { return State(o.state.Load()) }

func (o *Orchestrator[S, CS]) setState(s State) { o.state.Store(int32(s)) }

// ActorID returns the actor identity this orchestrator owns.
func (o *Orchestrator[S, CS]) ActorID() string { return o.actorID }

// Start loads persisted state (or creates it on first run), invokes
// onCreate/onWake, primes the schedule alarm, and transitions through
// Loading → Ready → Started. Idempotent once past Loading.
func (o *Orchestrator[S, CS]) Start(ctx context.Context) error {
	if o.State() != StateLoading {
		return nil
	}

	go o.run()

	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, o.doStart(ctx)
	})
	return err
}

func (o *Orchestrator[S, CS]) doStart(ctx context.Context) error {
	raw, found, err := o.facade.GetPersistData(ctx)
	if err != nil {
		return err
	}
	if !found {
		raw, found, err = o.facade.GetLegacyPersisted(ctx)
		if err != nil {
			return err
		}
	}

	if found {
		var persisted PersistedActor[S, []byte]
		if err := codec.Unmarshal(raw, &persisted); err != nil {
			return err
		}
		o.actorState = persisted.State
		o.hasInitialized = persisted.HasInitialized
		o.scheduledEvents = persisted.ScheduledEvents
	}

	if err := o.loadConns(ctx); err != nil {
		return err
	}
	if err := o.loadQueue(ctx); err != nil {
		return err
	}

	if !o.hasInitialized {
		if o.hooks.CreateState != nil {
			s, err := WithDeadlineValue(ctx, o.cfg.CreateVarsTimeout, func(ctx context.Context) (S, error) {
				return o.hooks.CreateState(ctx, nil)
			})
			if err != nil {
				return err
			}
			o.actorState = s
		}
		if o.hooks.OnCreate != nil {
			if err := WithDeadline(ctx, o.cfg.CreateVarsTimeout, o.hooks.OnCreate); err != nil {
				return err
			}
		}
		o.hasInitialized = true
		o.markActorDirty()
	}

	o.setState(StateReady)

	if o.hooks.OnWake != nil {
		if err := WithDeadline(ctx, o.cfg.OnSleepTimeout, o.hooks.OnWake); err != nil {
			return err
		}
	}

	if starter, ok := o.driver.(kv.BeforeActorStarter); ok {
		if err := starter.OnBeforeActorStart(ctx, o.actorID); err != nil {
			return err
		}
	}

	o.setState(StateStarted)
	o.primeAlarmLocked(ctx)
	o.resetSleepTimerLocked()

	if o.hooks.Run != nil {
		go o.runUserRun(ctx)
	}

	return nil
}

func (o *Orchestrator[S, CS]) runUserRun(ctx context.Context) {
	err := o.hooks.Run(o.abortCtx, o)
	close(o.runDone)
	o.submitFireAndForget(func(ctx context.Context) (any, error) {
		o.runExited = true
		if o.State() != StateStopping && o.State() != StateStopped {
			if err != nil {
				o.log.Errorw("run handler exited with error, destroying actor", logger.FieldError, err.Error())
			} else {
				o.log.Warnw("run handler returned while actor was not stopping, destroying actor")
			}
			_ = o.doStop(ctx, StopDestroy)
		}
		return nil, nil
	})
}

// run is the single serial executor goroutine: every mutation of this
// orchestrator's owned state happens here.
func (o *Orchestrator[S, CS]) run() {
	for j := range o.work {
		val, err := j.fn(o.execCtx)
		j.resp <- jobResult{val: val, err: err}
		if o.State() == StateStopped {
			break
		}
	}
	close(o.stopped)
}

// submit enqueues fn and blocks for its result, preserving the
// single-execution guarantee while letting any goroutine call public
// Orchestrator methods concurrently.
//
// If ctx already carries the insideExecutor marker — meaning the caller
// is an action or hook running as part of a job run() is currently
// executing — fn runs inline on the calling goroutine instead of being
// enqueued. run() is blocked waiting on exactly this call to return, so
// queuing would deadlock; running inline is safe because run() touches
// no orchestrator state while blocked. This only holds up to
// ActionTimeout: a timed-out action's goroutine that calls back in
// afterward runs inline concurrently with whatever run() has moved on
// to, the same best-effort tradeoff WithDeadline already accepts for
// hooks that outlive their deadline.
func (o *Orchestrator[S, CS]) submit(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if isInsideExecutor(ctx) {
		return fn(ctx)
	}
	if o.State() == StateStopped {
		return nil, E(KindActorStopping, "actor has stopped")
	}

	resp := make(chan jobResult, 1)
	select {
	case o.work <- job{fn: fn, resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-resp:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// submitFireAndForget enqueues fn without waiting for its result,
// for use by background goroutines (the run handler's exit callback)
// that must not block the caller.
func (o *Orchestrator[S, CS]) submitFireAndForget(fn func(context.Context) (any, error)) {
	resp := make(chan jobResult, 1)
	select {
	case o.work <- job{fn: fn, resp: resp}:
	case <-o.abortCtx.Done():
	}
}

// ExecuteAction invokes a named action under ActionTimeout. Requires
// Ready or Started. Triggers a throttled persistence write on every exit path.
func (o *Orchestrator[S, CS]) ExecuteAction(ctx context.Context, name string, args []byte) (any, error) {
	return o.submit(ctx, func(ctx context.Context) (any, error) {
		defer o.scheduleSave()

		if o.State() != StateStarted && o.State() != StateReady {
			return nil, E(KindActorNotReady, "actor is not ready")
		}
		fn, ok := o.actions[name]
		if !ok {
			return nil, Ef(KindActionNotFound, "action %q not found", name)
		}

		type actionResult struct {
			val any
			err error
		}
		done := make(chan actionResult, 1)
		go func() {
			v, err := fn(ctx, o, args)
			done <- actionResult{val: v, err: err}
		}()

		var res actionResult
		select {
		case res = <-done:
		case <-time.After(o.cfg.ActionTimeout):
			return nil, Ef(KindActionTimedOut, "action %q timed out", name)
		}

		if res.err != nil {
			return nil, res.err
		}

		if o.hooks.OnBeforeActionResponse != nil {
			rewritten, err := o.hooks.OnBeforeActionResponse(ctx, name, res.val)
			if err != nil {
				o.log.Errorw("onBeforeActionResponse failed, using original result", logger.FieldAction, name, logger.FieldError, err.Error())
				return res.val, nil
			}
			return rewritten, nil
		}
		return res.val, nil
	})
}

// Broadcast delegates to the Event Manager. Requires Ready.
func (o *Orchestrator[S, CS]) Broadcast(ctx context.Context, name string, args []byte) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		if o.State() != StateReady && o.State() != StateStarted {
			return nil, E(KindActorNotReady, "actor is not ready")
		}
		return nil, o.broadcastLocked(ctx, name, args)
	})
	return err
}

// ScheduleEventAt delegates to the Schedule Manager.
func (o *Orchestrator[S, CS]) ScheduleEventAt(ctx context.Context, ts time.Time, action string, args []byte) (string, error) {
	v, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return o.scheduleEventLocked(ctx, ts, action, args)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// OnAlarm is invoked by the host when the driver's alarm fires.
// Idempotent: firing with nothing due just re-arms the alarm.
func (o *Orchestrator[S, CS]) OnAlarm(ctx context.Context) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, o.onAlarmLocked(ctx)
	})
	return err
}

// OnStop performs orderly teardown for either a sleep or a destroy.
func (o *Orchestrator[S, CS]) OnStop(ctx context.Context, reason StopReason) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, o.doStop(ctx, reason)
	})
	return err
}

func (o *Orchestrator[S, CS]) doStop(ctx context.Context, reason StopReason) error {
	if o.State() == StateStopping || o.State() == StateStopped {
		return nil
	}
	o.setState(StateStopping)
	o.abortCancel()
	// ctx derives from abortCtx, which was just cancelled. The stop
	// hooks, the final flush and StartDestroy run on a copy that keeps
	// ctx's values but not its cancellation, so each hook is bounded by
	// its own timeout rather than failing at once.
	ctx = context.WithoutCancel(ctx)

	if o.hooks.Run != nil && !o.runExited {
		select {
		case <-time.After(o.cfg.RunStopTimeout):
			o.log.Warnw("run handler did not exit within runStopTimeout")
		case <-o.runDone:
		}
	}

	var hookErr error
	if reason == StopSleep && o.hooks.OnSleep != nil {
		hookErr = WithDeadline(ctx, o.cfg.OnSleepTimeout, o.hooks.OnSleep)
	} else if reason == StopDestroy && o.hooks.OnDestroy != nil {
		hookErr = WithDeadline(ctx, o.cfg.OnDestroyTimeout, o.hooks.OnDestroy)
	}
	if hookErr != nil {
		o.log.Errorw("stop hook failed", "reason", string(reason), logger.FieldError, hookErr.Error())
	}

	// Flush synchronously rather than through the throttle timer: the
	// timer's callback runs on a separate goroutine via
	// submitFireAndForget, with no guarantee it lands before the driver
	// tears the actor's namespace down below.
	if err := o.flushNowLocked(ctx); err != nil {
		o.log.Errorw("final state save before stop failed", logger.FieldError, err.Error())
	}

	// The sleep path needs no driver call here: the arbiter already
	// invoked StartSleep, and this OnStop is the driver's answer to it.
	if reason == StopDestroy {
		if err := o.facade.StartDestroy(ctx); err != nil {
			return err
		}
	}

	o.setState(StateStopped)
	return nil
}

// Inspector returns an introspection handle. It always succeeds; the
// per-actor inspector token is not checked here.
func (o *Orchestrator[S, CS]) Inspector() (Inspector, bool) {
	return inspector[S, CS]{o: o}, true
}

type inspector[S any, CS any] struct{ o *Orchestrator[S, CS] }

func (i inspector[S, CS]) Snapshot(ctx context.Context) (InspectorSnapshot, error) {
	v, err := i.o.submit(ctx, func(ctx context.Context) (any, error) {
		return InspectorSnapshot{
			ActorID:         i.o.actorID,
			State:           i.o.State(),
			ConnCount:       len(i.o.conns),
			ScheduledEvents: len(i.o.scheduledEvents),
			QueueSize:       i.o.queue.metadata.Size,
		}, nil
	})
	if err != nil {
		return InspectorSnapshot{}, err
	}
	return v.(InspectorSnapshot), nil
}
