package actor

import (
	"context"

	"github.com/teranos/actorcore/codec"
	"github.com/teranos/actorcore/logger"
)

// Event is the framed message broadcast to subscribers.
type Event struct {
	Name string `cbor:"name"`
	Args []byte `cbor:"args,omitempty"`
}

// addSubscriptionLocked adds connID to the subscriber set for name.
// Idempotent. When fromPersist is false the connection's new
// subscription list is flushed to KV right away — subscription changes
// save immediately, not on the throttle, so a reload never resurrects
// a stale subscriber set.
func (o *Orchestrator[S, CS]) addSubscriptionLocked(ctx context.Context, connID, name string, fromPersist bool) {
	c, ok := o.conns[connID]
	if !ok {
		return
	}
	if c.Subscriptions == nil {
		c.Subscriptions = make(map[string]struct{})
	}
	// A reload hands in a conn whose Subscriptions already lists name
	// (restored from its row); the index entry still has to be rebuilt.
	if _, already := c.Subscriptions[name]; already && !fromPersist {
		return
	}
	c.Subscriptions[name] = struct{}{}

	set, ok := o.subscriptions[name]
	if !ok {
		set = make(map[string]bool)
		o.subscriptions[name] = set
	}
	set[connID] = true

	if !fromPersist {
		o.markConnDirty(connID)
		_ = o.flushNowLocked(ctx) // errors logged by the flush itself
	}
}

// removeSubscriptionLocked mirrors addSubscriptionLocked, and drops the
// eventName entry from the index entirely once its set is empty.
func (o *Orchestrator[S, CS]) removeSubscriptionLocked(ctx context.Context, connID, name string) {
	c, ok := o.conns[connID]
	if ok {
		delete(c.Subscriptions, name)
		o.markConnDirty(connID)
		_ = o.flushNowLocked(ctx)
	}
	if set, ok := o.subscriptions[name]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(o.subscriptions, name)
		}
	}
}

// broadcastLocked serializes args and sends an Event to every
// subscriber of name, observed at send time. Per-connection send
// errors are logged and skipped, never fail the broadcast as a whole.
func (o *Orchestrator[S, CS]) broadcastLocked(ctx context.Context, name string, args []byte) error {
	set, ok := o.subscriptions[name]
	if !ok || len(set) == 0 {
		return nil
	}
	raw, err := codec.Marshal(Event{Name: name, Args: args})
	if err != nil {
		return err
	}
	for connID := range set {
		c, ok := o.conns[connID]
		if !ok || c.driver == nil {
			continue
		}
		if err := c.driver.Send(raw); err != nil {
			o.log.Warnw("broadcast send failed", logger.FieldConnID, connID, logger.FieldEventName, name, logger.FieldError, err.Error())
		}
	}
	return nil
}

// Subscribe registers connID for name through the framed
// SubscriptionRequest path (ProcessMessage).
func (o *Orchestrator[S, CS]) Subscribe(ctx context.Context, connID, name string) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		o.addSubscriptionLocked(ctx, connID, name, false)
		return nil, nil
	})
	return err
}

// Unsubscribe mirrors Subscribe.
func (o *Orchestrator[S, CS]) Unsubscribe(ctx context.Context, connID, name string) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		o.removeSubscriptionLocked(ctx, connID, name)
		return nil, nil
	})
	return err
}
