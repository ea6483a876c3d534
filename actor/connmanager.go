package actor

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/actorcore/codec"
	"github.com/teranos/actorcore/kv"
	"github.com/teranos/actorcore/logger"
)

// loadConns reads every persisted connection row into memory and
// rebuilds the subscription index. Called once during Start, before
// the actor reaches Ready; driver state is nil until a matching
// hibernatable reconnect arrives.
func (o *Orchestrator[S, CS]) loadConns(ctx context.Context) error {
	rows, err := o.facade.ListConns(ctx)
	if err != nil {
		return err
	}
	for connID, raw := range rows {
		var row PersistedConn[[]byte, CS]
		if err := codec.Unmarshal(raw, &row); err != nil {
			o.log.Errorw("dropping unreadable persisted connection", logger.FieldConnID, connID, logger.FieldError, err.Error())
			continue
		}
		c := connFromPersisted[CS](row, nil)
		o.conns[c.ID] = c
		for name := range c.Subscriptions {
			o.addSubscriptionLocked(ctx, c.ID, name, true)
		}
	}
	return nil
}

// PrepareConn either reattaches an existing hibernatable connection
// matching driver's RequestID, or allocates a fresh one. Connect is synchronous up to
// inserting into the connection map and invoking onConnect, so
// websocket open/message ordering is preserved.
func (o *Orchestrator[S, CS]) PrepareConn(ctx context.Context, driver ConnDriver, params []byte) (*Conn[CS], error) {
	v, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return o.prepareConnLocked(ctx, driver, params)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn[CS]), nil
}

func (o *Orchestrator[S, CS]) prepareConnLocked(ctx context.Context, driver ConnDriver, params []byte) (*Conn[CS], error) {
	if driver.Hibernatable() {
		if reqID, ok := driver.RequestID(); ok {
			for _, c := range o.conns {
				if bytes.Equal(c.hibernatableRequestID, reqID) {
					if c.driver != nil {
						_ = c.driver.Close("reconnecting")
					}
					c.driver = driver
					c.LastSeen = time.Now()
					o.markConnDirty(c.ID)
					return c, nil
				}
			}
		}
	}

	if o.hooks.OnBeforeConnect != nil {
		if err := o.hooks.OnBeforeConnect(ctx, params); err != nil {
			return nil, err
		}
	}

	var connState CS
	if o.hooks.CreateConnState != nil {
		cs, err := WithDeadlineValue(ctx, o.cfg.CreateConnStateTimeout, func(ctx context.Context) (CS, error) {
			return o.hooks.CreateConnState(ctx, params)
		})
		if err != nil {
			return nil, err
		}
		connState = cs
	}

	c := &Conn[CS]{
		ID:            uuid.NewString(),
		Params:        params,
		State:         connState,
		Subscriptions: make(map[string]struct{}),
		LastSeen:      time.Now(),
		driver:        driver,
	}
	if driver.Hibernatable() {
		if reqID, ok := driver.RequestID(); ok {
			c.hibernatableRequestID = reqID
		}
	}
	return c, nil
}

// ConnectConn inserts conn into the live set and runs onConnect.
// Failure disconnects the conn with reason "onConnect failed".
func (o *Orchestrator[S, CS]) ConnectConn(ctx context.Context, c *Conn[CS]) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, o.connectConnLocked(ctx, c)
	})
	return err
}

func (o *Orchestrator[S, CS]) connectConnLocked(ctx context.Context, c *Conn[CS]) error {
	o.conns[c.ID] = c
	o.markConnDirty(c.ID)
	o.resetSleepTimerLocked()

	if o.hooks.OnConnect != nil {
		if err := WithDeadline(ctx, o.cfg.OnConnectTimeout, func(ctx context.Context) error {
			return o.hooks.OnConnect(ctx, c)
		}); err != nil {
			delete(o.conns, c.ID)
			if c.driver != nil {
				_ = c.driver.Close("onConnect failed")
			}
			return err
		}
	}

	if c.driver != nil {
		init, encErr := codec.Marshal(initMessage{ActorID: o.actorID, ConnectionID: c.ID})
		if encErr == nil {
			_ = c.driver.Send(init)
		}
	}

	if observer, ok := o.driver.(kv.ConnPersistObserver); ok {
		observer.OnCreateConn(ctx, o.actorID, c.ID)
	}
	return nil
}

type initMessage struct {
	ActorID      string `cbor:"actorId"`
	ConnectionID string `cbor:"connectionId"`
}

// ConnDisconnected handles a clean or unclean disconnect. On a clean
// disconnect the connection and its subscriptions are removed entirely
// and the persisted row deleted. On an unclean disconnect of a
// hibernatable connection, driver state is cleared but the connection
// and its persisted row are kept so a matching reconnect can reattach
// later; an unclean disconnect of a non-hibernatable connection is
// handled like a clean one.
func (o *Orchestrator[S, CS]) ConnDisconnected(ctx context.Context, connID string, clean bool) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return nil, o.connDisconnectedLocked(ctx, connID, clean)
	})
	return err
}

func (o *Orchestrator[S, CS]) connDisconnectedLocked(ctx context.Context, connID string, clean bool) error {
	c, ok := o.conns[connID]
	if !ok {
		return nil
	}

	o.resetSleepTimerLocked()

	if !clean && c.Hibernatable() {
		c.driver = nil
		c.LastSeen = time.Now()
		o.markConnDirty(connID)
		o.runOnDisconnect(c, false)
		return nil
	}

	for name := range c.Subscriptions {
		o.removeSubscriptionLocked(ctx, connID, name)
	}
	delete(o.conns, connID)
	delete(o.dirtyConns, connID)

	o.runOnDisconnect(c, clean)

	err := o.facade.DeleteConn(ctx, connID)
	if observer, ok := o.driver.(kv.ConnPersistObserver); ok {
		observer.OnDestroyConn(ctx, o.actorID, connID)
	}
	return err
}

// runOnDisconnect launches the onDisconnect hook without blocking the
// executor, holding the pending-disconnect counter up until the hook
// settles so the Sleep Arbiter won't tear the actor down mid-callback.
// Hook errors are logged and swallowed.
func (o *Orchestrator[S, CS]) runOnDisconnect(c *Conn[CS], clean bool) {
	if o.hooks.OnDisconnect == nil {
		return
	}
	o.slp.pendingDisconnects++
	go func() {
		if err := o.hooks.OnDisconnect(o.abortCtx, c, clean); err != nil {
			o.log.Errorw("onDisconnect hook error (swallowed)", logger.FieldConnID, c.ID, logger.FieldError, err.Error())
		}
		o.submitFireAndForget(func(ctx context.Context) (any, error) {
			o.slp.pendingDisconnects--
			o.resetSleepTimerLocked()
			return nil, nil
		})
	}()
}

// Hibernatable reports whether this connection's driver (if still
// attached, or the last one it had) supports reconnection.
func (c *Conn[CS]) Hibernatable() bool {
	if c.driver != nil {
		return c.driver.Hibernatable()
	}
	return len(c.hibernatableRequestID) > 0
}
