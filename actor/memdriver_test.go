package actor_test

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teranos/actorcore/kv"
)

// memDriver is an in-memory kv.Driver used across actor package tests.
// It also implements kv.Sleeper so sleep-arbiter behavior is observable,
// and lets a test crash-simulate by cloning its stored rows.
type memDriver struct {
	mu   sync.Mutex
	data map[string]map[string][]byte // actorID -> key -> value

	alarms map[string]time.Time

	sleepCalls   []string
	destroyCalls []string
}

func newMemDriver() *memDriver {
	return &memDriver{
		data:   make(map[string]map[string][]byte),
		alarms: make(map[string]time.Time),
	}
}

func (d *memDriver) KVBatchGet(ctx context.Context, actorID string, keys [][]byte) ([]kv.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]kv.Entry, len(keys))
	rows := d.data[actorID]
	for i, k := range keys {
		out[i] = kv.Entry{Key: k}
		if rows != nil {
			if v, ok := rows[string(k)]; ok {
				cp := make([]byte, len(v))
				copy(cp, v)
				out[i].Value = cp
			}
		}
	}
	return out, nil
}

func (d *memDriver) KVBatchPut(ctx context.Context, actorID string, entries []kv.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows, ok := d.data[actorID]
	if !ok {
		rows = make(map[string][]byte)
		d.data[actorID] = rows
	}
	for _, e := range entries {
		cp := make([]byte, len(e.Value))
		copy(cp, e.Value)
		rows[string(e.Key)] = cp
	}
	return nil
}

func (d *memDriver) KVBatchDelete(ctx context.Context, actorID string, keys [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rows := d.data[actorID]
	for _, k := range keys {
		delete(rows, string(k))
	}
	return nil
}

func (d *memDriver) KVListPrefix(ctx context.Context, actorID string, prefix []byte) ([]kv.Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []kv.Entry
	for k, v := range d.data[actorID] {
		if bytes.HasPrefix([]byte(k), prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, kv.Entry{Key: []byte(k), Value: cp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

func (d *memDriver) SetAlarm(ctx context.Context, actorID string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alarms[actorID] = at
	return nil
}

func (d *memDriver) StartDestroy(ctx context.Context, actorID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.data, actorID)
	delete(d.alarms, actorID)
	d.destroyCalls = append(d.destroyCalls, actorID)
	return nil
}

func (d *memDriver) StartSleep(ctx context.Context, actorID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sleepCalls = append(d.sleepCalls, actorID)
	return nil
}

func (d *memDriver) sleepCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sleepCalls)
}

func (d *memDriver) destroyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.destroyCalls)
}

// clone returns a new memDriver with a deep copy of d's rows, standing
// in for a process restart against the same backing store.
func (d *memDriver) clone() *memDriver {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := newMemDriver()
	for actorID, rows := range d.data {
		cp := make(map[string][]byte, len(rows))
		for k, v := range rows {
			vv := make([]byte, len(v))
			copy(vv, v)
			cp[k] = vv
		}
		n.data[actorID] = cp
	}
	return n
}

// fakeConnDriver is a test double for actor.ConnDriver.
type fakeConnDriver struct {
	mu           sync.Mutex
	sent         [][]byte
	closed       bool
	closeReason  string
	hibernatable bool
	requestID    []byte
}

func (f *fakeConnDriver) Send(msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConnDriver) Close(reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeReason = reason
	return nil
}

func (f *fakeConnDriver) RequestID() ([]byte, bool) {
	if len(f.requestID) == 0 {
		return nil, false
	}
	return f.requestID, true
}

func (f *fakeConnDriver) Hibernatable() bool { return f.hibernatable }

func (f *fakeConnDriver) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}
