package actor

import (
	"context"
	"time"

	"github.com/teranos/actorcore/codec"
	"github.com/teranos/actorcore/kv"
	"github.com/teranos/actorcore/logger"
)

// Mutate runs fn against the live state root and marks the actor dirty.
// fn runs under the orchestrator's serial execution — callers never
// need their own locking inside fn — then the result is checked against
// the serializability predicate before the dirty flag is set.
func (o *Orchestrator[S, CS]) Mutate(ctx context.Context, fn func(s *S)) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		fn(&o.actorState)
		if err := codec.ValidateValue("state", o.actorState); err != nil {
			return nil, err
		}
		o.markActorDirty()
		if s := o.State(); o.hooks.OnStateChange != nil && (s == StateReady || s == StateStarted) {
			o.onStateChangeLocked(ctx)
		}
		return nil, nil
	})
	return err
}

// MutateConn runs fn against one connection's state, under the same
// serializability check, rooted at "conn.<connId>.state" for error
// reporting.
func (o *Orchestrator[S, CS]) MutateConn(ctx context.Context, connID string, fn func(cs *CS)) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		c, ok := o.conns[connID]
		if !ok {
			return nil, Ef(KindConnStateNotEnabled, "no such connection %q", connID)
		}
		fn(&c.State)
		if err := codec.ValidateValue("conn."+connID+".state", c.State); err != nil {
			return nil, err
		}
		o.markConnDirty(connID)
		return nil, nil
	})
	return err
}

// SaveState forces a persistence write. With immediate=true the batch
// is written before SaveState returns and any write error surfaces to
// the caller; otherwise it only (re)schedules the throttled save.
func (o *Orchestrator[S, CS]) SaveState(ctx context.Context, immediate bool) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		if !immediate {
			o.scheduleSave()
			return nil, nil
		}
		return nil, o.flushNowLocked(ctx)
	})
	return err
}

// flushNowLocked cancels any pending throttled save and writes the
// dirty set synchronously. Used by immediate saves, subscription
// changes, and the final flush during stop.
func (o *Orchestrator[S, CS]) flushNowLocked(ctx context.Context) error {
	if o.saveTimer != nil {
		o.saveTimer.Stop()
		o.saveTimer = nil
	}
	return o.flushSaveLocked(ctx)
}

// onStateChangeLocked invokes the onStateChange hook with a guard
// against re-entrant recursion if the hook itself mutates state.
func (o *Orchestrator[S, CS]) onStateChangeLocked(ctx context.Context) {
	if o.stateChangeDepth > 0 {
		return
	}
	o.stateChangeDepth++
	defer func() { o.stateChangeDepth-- }()
	o.hooks.OnStateChange(ctx, o.actorState)
}

func (o *Orchestrator[S, CS]) markActorDirty() {
	o.actorDirty = true
	o.scheduleSave()
}

func (o *Orchestrator[S, CS]) markConnDirty(connID string) {
	o.dirtyConns[connID] = true
	o.scheduleSave()
}

// scheduleSave implements the throttled/coalesced save: compute
// delay = max(0, stateSaveInterval - (now-lastSaveTime)); only
// reschedule the timer if doing so would fire sooner than whatever is
// already armed.
func (o *Orchestrator[S, CS]) scheduleSave() {
	if !o.actorDirty && len(o.dirtyConns) == 0 {
		return
	}
	now := time.Now()
	delay := o.cfg.StateSaveInterval - now.Sub(o.lastSaveTime)
	if delay < 0 {
		delay = 0
	}
	target := now.Add(delay)

	if o.saveTimer != nil && !o.saveDeadline.IsZero() && o.saveDeadline.Before(target) {
		return // an earlier save is already armed
	}
	if o.saveTimer != nil {
		o.saveTimer.Stop()
	}
	o.saveDeadline = target
	d := target.Sub(now)
	o.saveTimer = time.AfterFunc(d, func() {
		o.submitFireAndForget(func(ctx context.Context) (any, error) {
			return nil, o.flushSaveLocked(ctx)
		})
	})
}

// flushSaveLocked performs the actual KV batch write. Called only from
// inside run() (directly for immediate saves, or via the save timer's
// submitFireAndForget for throttled ones).
func (o *Orchestrator[S, CS]) flushSaveLocked(ctx context.Context) error {
	if !o.actorDirty && len(o.dirtyConns) == 0 {
		return nil
	}

	actorDirty := o.actorDirty
	dirtyConnIDs := make([]string, 0, len(o.dirtyConns))
	for id := range o.dirtyConns {
		dirtyConnIDs = append(dirtyConnIDs, id)
	}

	observer, _ := o.driver.(kv.ConnPersistObserver)
	var persistedConnIDs []string

	err := o.saveQueue.Do(ctx, func(ctx context.Context) error {
		batch := &kv.Batch{}
		if actorDirty {
			persisted := PersistedActor[S, []byte]{
				HasInitialized:  o.hasInitialized,
				State:           o.actorState,
				ScheduledEvents: o.scheduledEvents,
			}
			raw, err := codec.Marshal(persisted)
			if err != nil {
				return err
			}
			batch.Put(kv.PersistDataKey(), raw)
		}
		for _, id := range dirtyConnIDs {
			c, ok := o.conns[id]
			if !ok {
				continue
			}
			if observer != nil {
				observer.OnBeforePersistConn(ctx, o.actorID, id)
			}
			raw, err := codec.Marshal(c.persistedRow())
			if err != nil {
				return err
			}
			batch.Put(kv.ConnKey(id), raw)
			persistedConnIDs = append(persistedConnIDs, id)
		}
		return o.facade.Write(ctx, batch)
	})

	if err != nil {
		o.log.Errorw("state save failed, will retry on next mutation", logger.FieldError, err.Error())
		return err
	}

	if observer != nil {
		for _, id := range persistedConnIDs {
			observer.OnAfterPersistConn(ctx, o.actorID, id)
		}
	}

	o.lastSaveTime = time.Now()
	if actorDirty {
		o.actorDirty = false
	}
	for _, id := range dirtyConnIDs {
		delete(o.dirtyConns, id)
	}
	o.saveDeadline = time.Time{}
	return nil
}
