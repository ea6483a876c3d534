package kv

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/teranos/actorcore/errors"
)

// Facade scopes a Driver to one actorID and translates the runtime's
// logical namespaces (persisted actor blob, per-connection rows, queue
// messages/metadata, inspector token, user KV) into the Driver's raw
// byte-key operations.
type Facade struct {
	driver  Driver
	actorID string
}

// New returns a Facade scoped to actorID.
func New(driver Driver, actorID string) *Facade {
	return &Facade{driver: driver, actorID: actorID}
}

// ActorID returns the actor this facade is scoped to.
func (f *Facade) ActorID() string { return f.actorID }

// Driver returns the underlying driver, for callers that need an
// optional capability interface (Sleeper, DatabaseProvider, ...).
func (f *Facade) Driver() Driver { return f.driver }

// Batch is a set of writes issued together. The facade does not claim
// cross-namespace atomicity beyond what the driver itself provides; it
// groups puts into one KVBatchPut call and deletes into one
// KVBatchDelete call.
type Batch struct {
	Puts    []Entry
	Deletes [][]byte
}

func (b *Batch) Put(key, value []byte) {
	b.Puts = append(b.Puts, Entry{Key: key, Value: value})
}

func (b *Batch) Delete(key []byte) {
	b.Deletes = append(b.Deletes, key)
}

// Write executes a Batch against the driver.
func (f *Facade) Write(ctx context.Context, b *Batch) error {
	if b == nil || (len(b.Puts) == 0 && len(b.Deletes) == 0) {
		return nil
	}
	if len(b.Puts) > 0 {
		if err := f.driver.KVBatchPut(ctx, f.actorID, b.Puts); err != nil {
			return errors.Wrap(err, "kv batch put failed")
		}
	}
	if len(b.Deletes) > 0 {
		if err := f.driver.KVBatchDelete(ctx, f.actorID, b.Deletes); err != nil {
			return errors.Wrap(err, "kv batch delete failed")
		}
	}
	return nil
}

// GetPersistData reads the actor's single PERSIST_DATA blob.
func (f *Facade) GetPersistData(ctx context.Context) ([]byte, bool, error) {
	return f.get(ctx, keyPersistData)
}

// PutPersistData writes the actor's PERSIST_DATA blob (immediate, not
// batched — callers that want batching alongside connection writes
// should use Write with an explicit Batch instead).
func (f *Facade) PutPersistData(ctx context.Context, value []byte) error {
	return f.driver.KVBatchPut(ctx, f.actorID, []Entry{{Key: keyPersistData, Value: value}})
}

// GetLegacyPersisted reads the single-blob legacy layout key, present
// only on actors never re-saved under this runtime.
func (f *Facade) GetLegacyPersisted(ctx context.Context) ([]byte, bool, error) {
	return f.get(ctx, keyLegacyPersisted)
}

// PersistDataKey exposes the raw key for callers building a Batch.
func PersistDataKey() []byte { return keyPersistData }

// ConnKey exposes the raw connection key for callers building a Batch.
func ConnKey(connID string) []byte { return connKey(connID) }

// GetConn reads one connection's persisted row.
func (f *Facade) GetConn(ctx context.Context, connID string) ([]byte, bool, error) {
	return f.get(ctx, connKey(connID))
}

// DeleteConn removes one connection's persisted row immediately.
func (f *Facade) DeleteConn(ctx context.Context, connID string) error {
	return f.driver.KVBatchDelete(ctx, f.actorID, [][]byte{connKey(connID)})
}

// ListConns returns every persisted connection row, keyed by connId.
func (f *Facade) ListConns(ctx context.Context) (map[string][]byte, error) {
	entries, err := f.driver.KVListPrefix(ctx, f.actorID, []byte{prefixConn})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list persisted connections")
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if connID, ok := connIDFromKey(e.Key); ok {
			out[connID] = e.Value
		}
	}
	return out, nil
}

// QueueMetadataKey exposes the raw queue metadata key for callers
// building a Batch.
func QueueMetadataKey() []byte { return keyQueueMetadata }

// GetQueueMetadata reads the single queue metadata entry.
func (f *Facade) GetQueueMetadata(ctx context.Context) ([]byte, bool, error) {
	return f.get(ctx, keyQueueMetadata)
}

// QueueMessageKey exposes the raw key for queue message id, for callers
// building a Batch.
func QueueMessageKey(id uint64) []byte { return queueKey(id) }

// ListQueueMessages returns every persisted queue message in ascending
// id order (guaranteed by the big-endian key encoding).
func (f *Facade) ListQueueMessages(ctx context.Context) (map[uint64][]byte, []uint64, error) {
	entries, err := f.driver.KVListPrefix(ctx, f.actorID, []byte{prefixQueue})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list persisted queue messages")
	}
	out := make(map[uint64][]byte, len(entries))
	order := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if id, ok := queueIDFromKey(e.Key); ok {
			out[id] = e.Value
			order = append(order, id)
		}
	}
	return out, order, nil
}

// InspectorToken returns the actor's introspection capability token, if
// one has been generated.
func (f *Facade) InspectorToken(ctx context.Context) (string, bool, error) {
	raw, ok, err := f.get(ctx, keyInspectorToken)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

// EnsureInspectorToken returns the existing inspector token or mints
// and persists a new one. The token is a capability credential,
// generated with crypto/rand rather than uuid.
func (f *Facade) EnsureInspectorToken(ctx context.Context) (string, error) {
	if tok, ok, err := f.InspectorToken(ctx); err != nil {
		return "", err
	} else if ok {
		return tok, nil
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "failed to generate inspector token")
	}
	tok := hex.EncodeToString(buf)
	if err := f.driver.KVBatchPut(ctx, f.actorID, []Entry{{Key: keyInspectorToken, Value: []byte(tok)}}); err != nil {
		return "", errors.Wrap(err, "failed to persist inspector token")
	}
	return tok, nil
}

// UserKV is the user-addressable scratch namespace.
// Unlike the state-manager path, writes here are immediate and not
// serializability-checked: callers own the bytes.
type UserKV struct{ f *Facade }

// UserKV returns the user-kv accessor for this actor.
func (f *Facade) UserKV() UserKV { return UserKV{f: f} }

func (u UserKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return u.f.get(ctx, userKVKey(key))
}

func (u UserKV) Put(ctx context.Context, key string, value []byte) error {
	return u.f.driver.KVBatchPut(ctx, u.f.actorID, []Entry{{Key: userKVKey(key), Value: value}})
}

func (u UserKV) Delete(ctx context.Context, key string) error {
	return u.f.driver.KVBatchDelete(ctx, u.f.actorID, [][]byte{userKVKey(key)})
}

func (u UserKV) List(ctx context.Context) (map[string][]byte, error) {
	entries, err := u.f.driver.KVListPrefix(ctx, u.f.actorID, []byte{prefixUserKV})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list user kv")
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if k, ok := userKeyFromKey(e.Key); ok {
			out[k] = e.Value
		}
	}
	return out, nil
}

// SetAlarm delegates to the driver, replacing any previously set alarm.
func (f *Facade) SetAlarm(ctx context.Context, at time.Time) error {
	return f.driver.SetAlarm(ctx, f.actorID, at)
}

// StartDestroy delegates to the driver.
func (f *Facade) StartDestroy(ctx context.Context) error {
	return f.driver.StartDestroy(ctx, f.actorID)
}

// StartSleep delegates to the driver's optional Sleeper capability.
// ok is false if the driver does not implement Sleeper.
func (f *Facade) StartSleep(ctx context.Context) (ok bool, err error) {
	sleeper, implements := f.driver.(Sleeper)
	if !implements {
		return false, nil
	}
	return true, sleeper.StartSleep(ctx, f.actorID)
}

func (f *Facade) get(ctx context.Context, key []byte) ([]byte, bool, error) {
	entries, err := f.driver.KVBatchGet(ctx, f.actorID, [][]byte{key})
	if err != nil {
		return nil, false, errors.Wrap(err, "kv get failed")
	}
	if len(entries) == 0 || entries[0].Value == nil {
		return nil, false, nil
	}
	return entries[0].Value, true, nil
}
