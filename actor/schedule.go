package actor

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/actorcore/kv"
	"github.com/teranos/actorcore/logger"
)

// scheduleState holds the Schedule Manager's supporting machinery: a
// dedicated write queue so alarm writes are serialized independently of
// state-save writes.
type scheduleState struct {
	alarmQueue kv.WriteQueue
}

// scheduleEventLocked inserts (ts, action, args) into the sorted
// timeline by stable insertion order on ties, and arms the driver alarm
// if this event is now the new head.
func (o *Orchestrator[S, CS]) scheduleEventLocked(ctx context.Context, ts time.Time, action string, args []byte) (string, error) {
	ev := ScheduleEvent{
		EventID:   uuid.NewString(),
		Timestamp: ts,
		Action:    action,
		Args:      args,
	}

	idx := sort.Search(len(o.scheduledEvents), func(i int) bool {
		return o.scheduledEvents[i].Timestamp.After(ts)
	})
	o.scheduledEvents = append(o.scheduledEvents, ScheduleEvent{})
	copy(o.scheduledEvents[idx+1:], o.scheduledEvents[idx:])
	o.scheduledEvents[idx] = ev

	o.markActorDirty()

	if idx == 0 {
		if err := o.setAlarmLocked(ctx, ts); err != nil {
			return "", err
		}
	}
	return ev.EventID, nil
}

func (o *Orchestrator[S, CS]) setAlarmLocked(ctx context.Context, at time.Time) error {
	return o.sched.alarmQueue.Do(ctx, func(ctx context.Context) error {
		return o.facade.SetAlarm(ctx, at)
	})
}

// primeAlarmLocked re-arms the driver alarm to the current head after a
// reload, in case the driver's own alarm state was lost.
func (o *Orchestrator[S, CS]) primeAlarmLocked(ctx context.Context) {
	if len(o.scheduledEvents) == 0 {
		return
	}
	if err := o.setAlarmLocked(ctx, o.scheduledEvents[0].Timestamp); err != nil {
		o.log.Errorw("failed to prime schedule alarm on start", logger.FieldError, err.Error())
	}
}

// onAlarmLocked drains every event due now or earlier, in timestamp
// order, re-arming the alarm to the new head before running any of
// them. Idempotent: if nothing is due (the driver fired early) it just
// reschedules. Errors from individual events are logged; the drain
// continues.
func (o *Orchestrator[S, CS]) onAlarmLocked(ctx context.Context) error {
	now := time.Now()
	due := 0
	for due < len(o.scheduledEvents) && !o.scheduledEvents[due].Timestamp.After(now) {
		due++
	}
	if due == 0 {
		if len(o.scheduledEvents) > 0 {
			return o.setAlarmLocked(ctx, o.scheduledEvents[0].Timestamp)
		}
		return nil
	}

	firing := make([]ScheduleEvent, due)
	copy(firing, o.scheduledEvents[:due])
	o.scheduledEvents = o.scheduledEvents[due:]
	o.markActorDirty()

	if len(o.scheduledEvents) > 0 {
		if err := o.setAlarmLocked(ctx, o.scheduledEvents[0].Timestamp); err != nil {
			o.log.Errorw("failed to rearm schedule alarm", logger.FieldError, err.Error())
		}
	}

	for _, ev := range firing {
		fn, ok := o.actions[ev.Action]
		if !ok {
			o.log.Warnw("scheduled event references unknown action", logger.FieldAction, ev.Action, logger.FieldScheduleID, ev.EventID)
			continue
		}
		if _, err := fn(ctx, o, ev.Args); err != nil {
			o.log.Errorw("scheduled event handler failed", logger.FieldAction, ev.Action, logger.FieldScheduleID, ev.EventID, logger.FieldError, err.Error())
		}
	}
	return nil
}
