package actor

import (
	"time"
)

// Conn is a single connection attached to an actor. CS is the
// user-defined connection-state type; Params are kept as raw CBOR
// bytes decoded lazily by hook code that knows the concrete shape,
// since unlike State (one well-known type per Orchestrator) connection
// params vary by caller and a single generic parameter already covers
// the common case of typed per-connection state.
type Conn[CS any] struct {
	ID            string
	Params        []byte // CBOR-encoded, opaque to the runtime
	State         CS
	Subscriptions map[string]struct{}
	LastSeen      time.Time

	driver                ConnDriver
	hibernatableRequestID []byte
	dirty                 bool
}

// persistedRow converts the live Conn into its wire/storage shape.
func (c *Conn[CS]) persistedRow() PersistedConn[[]byte, CS] {
	subs := make([]Subscription, 0, len(c.Subscriptions))
	for name := range c.Subscriptions {
		subs = append(subs, Subscription{EventName: name})
	}
	return PersistedConn[[]byte, CS]{
		ConnID:                c.ID,
		Params:                c.Params,
		State:                 c.State,
		Subscriptions:         subs,
		LastSeen:              c.LastSeen.UnixMilli(),
		HibernatableRequestID: c.hibernatableRequestID,
	}
}

func connFromPersisted[CS any](row PersistedConn[[]byte, CS], driver ConnDriver) *Conn[CS] {
	subs := make(map[string]struct{}, len(row.Subscriptions))
	for _, s := range row.Subscriptions {
		subs[s.EventName] = struct{}{}
	}
	return &Conn[CS]{
		ID:                    row.ConnID,
		Params:                row.Params,
		State:                 row.State,
		Subscriptions:         subs,
		LastSeen:              time.UnixMilli(row.LastSeen),
		driver:                driver,
		hibernatableRequestID: row.HibernatableRequestID,
	}
}
