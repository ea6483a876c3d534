// Package kv defines the storage driver contract the actor runtime
// consumes and a prefixed-namespace facade over it. The driver
// implementation itself — the actual KV store, its consistency model,
// its on-disk format — is an external collaborator; this package only
// describes the shape the runtime needs and does the namespacing
// arithmetic.
package kv

import (
	"context"
	"database/sql"
	"time"
)

// Entry is a single key/value pair as seen by the driver.
type Entry struct {
	Key   []byte
	Value []byte
}

// Driver is the storage/alarm collaborator an actor instance is built
// on top of. Every method is scoped to a single actorID; the driver MUST
// guarantee sequential consistency for operations against the same
// actorID.
type Driver interface {
	// KVBatchGet returns one value per requested key, in the same
	// order. A missing key yields a nil Entry.Value with the Entry.Key
	// still set, so callers can zip results back to their requests.
	KVBatchGet(ctx context.Context, actorID string, keys [][]byte) ([]Entry, error)

	// KVBatchPut writes all entries. Implementations should perform
	// this as a single write on their backing store where possible.
	KVBatchPut(ctx context.Context, actorID string, entries []Entry) error

	// KVBatchDelete removes all listed keys. Deleting an absent key is
	// not an error.
	KVBatchDelete(ctx context.Context, actorID string, keys [][]byte) error

	// KVListPrefix returns every entry whose key starts with prefix,
	// in key order (the runtime relies on this for queue messages,
	// whose big-endian u64 ids sort the same as their insertion order).
	KVListPrefix(ctx context.Context, actorID string, prefix []byte) ([]Entry, error)

	// SetAlarm replaces any previously set alarm for actorID. Only one
	// alarm may be pending per actor; setting a new one supersedes the
	// old regardless of timestamp.
	SetAlarm(ctx context.Context, actorID string, at time.Time) error

	// StartDestroy tears the actor down for good after an orderly stop.
	StartDestroy(ctx context.Context, actorID string) error
}

// Sleeper is an optional driver capability. Its absence disables the
// sleep arbiter entirely.
type Sleeper interface {
	StartSleep(ctx context.Context, actorID string) error
}

// BeforeActorStarter lets the driver observe (and veto) the Ready→Started
// transition.
type BeforeActorStarter interface {
	OnBeforeActorStart(ctx context.Context, actorID string) error
}

// ConnPersistObserver lets the driver observe connection persistence
// events, e.g. to maintain a secondary index.
type ConnPersistObserver interface {
	OnCreateConn(ctx context.Context, actorID, connID string)
	OnDestroyConn(ctx context.Context, actorID, connID string)
	OnBeforePersistConn(ctx context.Context, actorID, connID string)
	OnAfterPersistConn(ctx context.Context, actorID, connID string)
}

// DatabaseProvider lets the driver hand out an optional embedded SQL
// handle for user code. The actor runtime core never
// calls this itself.
type DatabaseProvider interface {
	GetDatabase(actorID string) (*sql.DB, bool)
}
