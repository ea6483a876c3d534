package actor

import (
	"context"
	"time"

	"github.com/teranos/actorcore/codec"
	"github.com/teranos/actorcore/errors"
	"github.com/teranos/actorcore/kv"
	"github.com/teranos/actorcore/logger"
)

// queueState is the queue's in-memory mirror. It is guarded by the
// orchestrator's serial execution rather than its own mutex: every
// method here already runs on one actor goroutine, so a second lock
// would be redundant.
type queueState struct {
	messages map[uint64]*QueueMessage
	order    []uint64 // ascending id order

	metadata QueueMetadata
	writeQ   kv.WriteQueue

	pendingID *uint64

	receiveWaiters    []*receiveWaiter
	completionWaiters map[uint64]chan completeResult

	redeliveryTimer *time.Timer
}

func newQueueState() *queueState {
	return &queueState{
		messages:          make(map[uint64]*QueueMessage),
		completionWaiters: make(map[uint64]chan completeResult),
	}
}

type receiveWaiter struct {
	names []string
	count int
	wait  bool
	ch    chan receiveResult
}

type receiveResult struct {
	messages []QueueMessage
	err      error
}

type completeResult struct {
	response []byte
	err      error
}

func (o *Orchestrator[S, CS]) loadQueue(ctx context.Context) error {
	raw, found, err := o.facade.GetQueueMetadata(ctx)
	if err != nil {
		return err
	}
	if found {
		if err := codec.Unmarshal(raw, &o.queue.metadata); err != nil {
			o.log.Errorw("queue metadata unreadable, rebuilding from scan", logger.FieldError, err.Error())
			o.queue.metadata = QueueMetadata{}
			found = false
		}
	}

	rows, ids, err := o.facade.ListQueueMessages(ctx)
	if err != nil {
		return err
	}
	if !found {
		// Metadata missing or corrupt: rebuild it from the scan.
		var maxID uint64
		for _, id := range ids {
			if id >= maxID {
				maxID = id + 1
			}
		}
		o.queue.metadata = QueueMetadata{NextID: maxID, Size: len(ids)}
	}

	now := time.Now()
	needsPersist := false
	for _, id := range ids {
		var msg QueueMessage
		if err := codec.Unmarshal(rows[id], &msg); err != nil {
			o.log.Errorw("dropping unreadable queue message", logger.FieldMessageID, id, logger.FieldError, err.Error())
			continue
		}
		if msg.InFlight {
			// Crash recovery: increment failureCount exactly once,
			// clear inFlight, recompute availableAt from backoff.
			msg.FailureCount++
			msg.InFlight = false
			msg.InFlightAt = nil
			msg.AvailableAt = now.Add(o.cfg.backoff(msg.FailureCount))
			needsPersist = true
		}
		o.queue.messages[id] = &msg
		o.queue.order = append(o.queue.order, id)
	}

	if needsPersist {
		return o.persistQueueMessages(ctx, ids)
	}
	return nil
}

func (o *Orchestrator[S, CS]) persistQueueMessages(ctx context.Context, ids []uint64) error {
	return o.queue.writeQ.Do(ctx, func(ctx context.Context) error {
		batch := &kv.Batch{}
		for _, id := range ids {
			msg, ok := o.queue.messages[id]
			if !ok {
				continue
			}
			raw, err := codec.Marshal(msg)
			if err != nil {
				return err
			}
			batch.Put(kv.QueueMessageKey(id), raw)
		}
		return o.facade.Write(ctx, batch)
	})
}

// Enqueue appends a new message. body must be serializable.
func (o *Orchestrator[S, CS]) Enqueue(ctx context.Context, name string, body any) (uint64, error) {
	v, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		return o.enqueueLocked(ctx, name, body, false)
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

// EnqueueAndWait enqueues body and blocks until a consumer calls
// Complete on the resulting message, returning the completion response;
// it gives up with ActionTimedOut after timeout, or when ctx is done.
func (o *Orchestrator[S, CS]) EnqueueAndWait(ctx context.Context, name string, body any, timeout time.Duration) ([]byte, error) {
	v, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		id, err := o.enqueueLocked(ctx, name, body, true)
		if err != nil {
			return nil, err
		}
		ch := make(chan completeResult, 1)
		o.queue.completionWaiters[id] = ch
		// Waiters were deferred by the enqueue so the completion channel
		// above exists before any consumer can pick the message up; wake
		// them now.
		o.wakeReceiveWaitersLocked()
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	ch := v.(chan completeResult)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.response, r.err
	case <-timer.C:
		return nil, Ef(KindActionTimedOut, "enqueueAndWait timed out waiting for completion")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator[S, CS]) enqueueLocked(ctx context.Context, name string, body any, deferWaiters bool) (uint64, error) {
	if o.queue.metadata.Size >= o.cfg.MaxQueueSize {
		return 0, E(KindQueueFull, "queue is full")
	}
	if err := codec.ValidateValue("body", body); err != nil {
		return 0, errWithKind(err, KindQueueMessageInvalid)
	}
	encoded, err := codec.Marshal(body)
	if err != nil {
		return 0, err
	}
	if len(encoded) > o.cfg.MaxQueueMessageSize {
		return 0, errors.WithSizeLimit(Ef(KindQueueMessageTooLarge, "message of %d bytes exceeds limit %d", len(encoded), o.cfg.MaxQueueMessageSize), len(encoded), o.cfg.MaxQueueMessageSize)
	}

	id := o.queue.metadata.NextID
	o.queue.metadata.NextID++
	o.queue.metadata.Size++

	now := time.Now()
	msg := &QueueMessage{
		ID:          id,
		Name:        name,
		Body:        encoded,
		CreatedAt:   now,
		AvailableAt: now,
	}
	o.queue.messages[id] = msg
	o.queue.order = append(o.queue.order, id)

	if err := o.writeQueueBatch(ctx, msg, true); err != nil {
		return 0, err
	}

	o.resetSleepTimerLocked()
	if !deferWaiters {
		o.wakeReceiveWaitersLocked()
	}
	return id, nil
}

func (o *Orchestrator[S, CS]) writeQueueBatch(ctx context.Context, msg *QueueMessage, isNew bool) error {
	return o.queue.writeQ.Do(ctx, func(ctx context.Context) error {
		batch := &kv.Batch{}
		raw, err := codec.Marshal(msg)
		if err != nil {
			return err
		}
		batch.Put(kv.QueueMessageKey(msg.ID), raw)
		metaRaw, err := codec.Marshal(o.queue.metadata)
		if err != nil {
			return err
		}
		batch.Put(kv.QueueMetadataKey(), metaRaw)
		return o.facade.Write(ctx, batch)
	})
}

// Receive looks for up to count undelivered messages matching names. If
// wait is true and exactly one match is found, it is marked in-flight
// and returned alone with its id set as the pending message. If none
// match now, the call blocks (subject to timeout) for the next matching
// enqueue.
func (o *Orchestrator[S, CS]) Receive(ctx context.Context, names []string, count int, timeout time.Duration, wait bool) ([]QueueMessage, error) {
	type prep struct {
		immediate []QueueMessage
		waiter    *receiveWaiter
	}
	v, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		if wait && o.queue.pendingID != nil {
			return nil, E(KindQueueMessagePending, "a message is already in flight")
		}
		matches := o.matchReceiveLocked(names, count, wait)
		if len(matches) > 0 {
			o.removeReceivedLocked(ctx, matches, wait)
			return prep{immediate: matches}, nil
		}
		if timeout <= 0 {
			return prep{}, nil
		}
		w := &receiveWaiter{names: names, count: count, wait: wait, ch: make(chan receiveResult, 1)}
		o.queue.receiveWaiters = append(o.queue.receiveWaiters, w)
		o.scheduleRedeliveryLocked()
		return prep{waiter: w}, nil
	})
	if err != nil {
		return nil, err
	}
	p := v.(prep)
	if p.waiter == nil {
		return p.immediate, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.waiter.ch:
		return r.messages, r.err
	case <-timer.C:
		o.cancelReceiveWaiter(p.waiter)
		return nil, nil
	case <-ctx.Done():
		o.cancelReceiveWaiter(p.waiter)
		return nil, ctx.Err()
	case <-o.abortCtx.Done():
		o.cancelReceiveWaiter(p.waiter)
		return nil, E(KindActorAborted, "actor is shutting down")
	}
}

func (o *Orchestrator[S, CS]) cancelReceiveWaiter(w *receiveWaiter) {
	o.submitFireAndForget(func(ctx context.Context) (any, error) {
		for i, cur := range o.queue.receiveWaiters {
			if cur == w {
				o.queue.receiveWaiters = append(o.queue.receiveWaiters[:i], o.queue.receiveWaiters[i+1:]...)
				break
			}
		}
		return nil, nil
	})
}

func (o *Orchestrator[S, CS]) matchReceiveLocked(names []string, count int, wait bool) []QueueMessage {
	now := time.Now()
	var out []QueueMessage
	for _, id := range o.queue.order {
		msg, ok := o.queue.messages[id]
		if !ok || msg.InFlight || msg.AvailableAt.After(now) {
			continue
		}
		if len(names) > 0 && !containsString(names, msg.Name) {
			continue
		}
		out = append(out, *msg)
		if wait || len(out) >= count {
			break
		}
	}
	return out
}

func (o *Orchestrator[S, CS]) removeReceivedLocked(ctx context.Context, matches []QueueMessage, wait bool) {
	if wait && len(matches) == 1 {
		id := matches[0].ID
		msg := o.queue.messages[id]
		now := time.Now()
		msg.InFlight = true
		msg.InFlightAt = &now
		o.queue.pendingID = &id
		_ = o.writeQueueBatch(ctx, msg, false)
		return
	}
	ids := make([]uint64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	_ = o.removeMessagesLocked(ctx, ids, nil)
}

func (o *Orchestrator[S, CS]) removeMessagesLocked(ctx context.Context, ids []uint64, response []byte) error {
	return o.queue.writeQ.Do(ctx, func(ctx context.Context) error {
		batch := &kv.Batch{}
		for _, id := range ids {
			batch.Delete(kv.QueueMessageKey(id))
			delete(o.queue.messages, id)
			o.removeFromOrder(id)
			o.queue.metadata.Size--
			if ch, ok := o.queue.completionWaiters[id]; ok {
				ch <- completeResult{response: response}
				delete(o.queue.completionWaiters, id)
			}
		}
		metaRaw, err := codec.Marshal(o.queue.metadata)
		if err != nil {
			return err
		}
		batch.Put(kv.QueueMetadataKey(), metaRaw)
		return o.facade.Write(ctx, batch)
	})
}

func (o *Orchestrator[S, CS]) removeFromOrder(id uint64) {
	for i, cur := range o.queue.order {
		if cur == id {
			o.queue.order = append(o.queue.order[:i], o.queue.order[i+1:]...)
			return
		}
	}
}

// Complete resolves the single in-flight message, only valid while it
// is still pending.
func (o *Orchestrator[S, CS]) Complete(ctx context.Context, msgID uint64, response []byte) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		if o.queue.pendingID == nil || *o.queue.pendingID != msgID {
			return nil, E(KindQueueAlreadyCompleted, "message is not the pending in-flight message")
		}
		o.queue.pendingID = nil
		return nil, o.removeMessagesLocked(ctx, []uint64{msgID}, response)
	})
	return err
}

func (o *Orchestrator[S, CS]) wakeReceiveWaitersLocked() {
	if len(o.queue.receiveWaiters) == 0 {
		return
	}
	remaining := o.queue.receiveWaiters[:0]
	for _, w := range o.queue.receiveWaiters {
		matches := o.matchReceiveLocked(w.names, w.count, w.wait)
		if len(matches) == 0 {
			remaining = append(remaining, w)
			continue
		}
		o.removeReceivedLocked(context.Background(), matches, w.wait)
		w.ch <- receiveResult{messages: matches}
	}
	o.queue.receiveWaiters = remaining
}

// scheduleRedeliveryLocked arms a one-shot timer for the earliest
// future availableAt among all messages not in flight, so a
// backoff-delayed message wakes receivers without polling.
func (o *Orchestrator[S, CS]) scheduleRedeliveryLocked() {
	var earliest time.Time
	now := time.Now()
	for _, id := range o.queue.order {
		msg := o.queue.messages[id]
		if msg.InFlight || !msg.AvailableAt.After(now) {
			continue
		}
		if earliest.IsZero() || msg.AvailableAt.Before(earliest) {
			earliest = msg.AvailableAt
		}
	}
	if earliest.IsZero() {
		return
	}
	if o.queue.redeliveryTimer != nil {
		o.queue.redeliveryTimer.Stop()
	}
	o.queue.redeliveryTimer = time.AfterFunc(earliest.Sub(now), func() {
		o.submitFireAndForget(func(ctx context.Context) (any, error) {
			o.wakeReceiveWaitersLocked()
			return nil, nil
		})
	})
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// errWithKind retags err's taxonomy kind, used when ValidateValue's
// InvalidStateType detail is reinterpreted as QueueMessageInvalid for
// the queue body path.
func errWithKind(err error, kind Kind) error {
	if k, ok := KindOf(err); ok && k == KindInvalidStateType {
		return errors.WithPath(Ef(kind, "queue message body is not serializable"), "body")
	}
	return err
}
