// Package actor implements the per-instance actor runtime: state
// persistence, connection lifecycle (including hibernation), event
// subscriptions, scheduled alarms, a durable message queue, and the
// sleep/destroy lifecycle that ties them together. Exactly one
// *Orchestrator exists per live actorID in a process; everything it
// owns is mutated from a single serial execution.
package actor

import (
	"time"

	"github.com/teranos/actorcore/errors"
)

// Re-export the error taxonomy (actor.Kind / actor.E / actor.KindOf)
// so call sites in this package don't reach into the errors package's
// Kind* constants directly.
type Kind = errors.Kind

const (
	KindActorNotReady             = errors.KindActorNotReady
	KindActorStopping             = errors.KindActorStopping
	KindActorAborted              = errors.KindActorAborted
	KindActionNotFound            = errors.KindActionNotFound
	KindActionTimedOut            = errors.KindActionTimedOut
	KindStateNotEnabled           = errors.KindStateNotEnabled
	KindVarsNotEnabled            = errors.KindVarsNotEnabled
	KindDatabaseNotEnabled        = errors.KindDatabaseNotEnabled
	KindConnStateNotEnabled       = errors.KindConnStateNotEnabled
	KindInvalidStateType          = errors.KindInvalidStateType
	KindRequestHandlerNotDefined  = errors.KindRequestHandlerNotDefined
	KindInvalidRequestHandlerResp = errors.KindInvalidRequestHandlerResp
	KindFetchHandlerNotDefined    = errors.KindFetchHandlerNotDefined
	KindQueueFull                 = errors.KindQueueFull
	KindQueueMessageInvalid       = errors.KindQueueMessageInvalid
	KindQueueMessageTooLarge      = errors.KindQueueMessageTooLarge
	KindQueueMessagePending       = errors.KindQueueMessagePending
	KindQueueAlreadyCompleted     = errors.KindQueueAlreadyCompleted
	KindOutgoingMessageTooLong    = errors.KindOutgoingMessageTooLong
	KindForbidden                 = errors.KindForbidden
	KindInvalidCanInvokeResponse  = errors.KindInvalidCanInvokeResponse
	KindUnreachable               = errors.KindUnreachable
	KindInternal                  = errors.KindInternal
	KindDeadlineExceeded          = errors.KindDeadlineExceeded
)

// E builds a new taxonomy-tagged error.
func E(kind Kind, msg string) error { return errors.NewKind(kind, msg) }

// Ef builds a new taxonomy-tagged error with a formatted message.
func Ef(kind Kind, format string, args ...interface{}) error {
	return errors.NewKindf(kind, format, args...)
}

// KindOf extracts the taxonomy kind attached to err, if any.
func KindOf(err error) (Kind, bool) { return errors.KindOf(err) }

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool { return errors.IsKind(err, kind) }

// State describes the Orchestrator's lifecycle position.
type State int32

const (
	StateLoading State = iota
	StateReady
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "Loading"
	case StateReady:
		return "Ready"
	case StateStarted:
		return "Started"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// StopReason distinguishes an orderly sleep from a destroy.
type StopReason string

const (
	StopSleep   StopReason = "sleep"
	StopDestroy StopReason = "destroy"
)

// ScheduleEvent is a future (timestamp, action, args) tuple persisted
// alongside the actor.
type ScheduleEvent struct {
	EventID   string    `cbor:"eventId"`
	Timestamp time.Time `cbor:"timestamp"`
	Action    string    `cbor:"action"`
	Args      []byte    `cbor:"args,omitempty"` // CBOR-encoded user args
}

// PersistedActor is the root object stored under the PERSIST_DATA key.
type PersistedActor[S any, I any] struct {
	Input           *I              `cbor:"input,omitempty"`
	HasInitialized  bool            `cbor:"hasInitialized"`
	State           S               `cbor:"state"`
	ScheduledEvents []ScheduleEvent `cbor:"scheduledEvents"`
}

// Subscription is one entry in a connection's persisted subscription list.
type Subscription struct {
	EventName string `cbor:"eventName"`
}

// PersistedConn is the per-connection persisted row.
type PersistedConn[CP any, CS any] struct {
	ConnID                string         `cbor:"connId"`
	Params                CP             `cbor:"params"`
	State                 CS             `cbor:"state"`
	Subscriptions         []Subscription `cbor:"subscriptions"`
	LastSeen              int64          `cbor:"lastSeen"` // epoch ms
	HibernatableRequestID []byte         `cbor:"hibernatableRequestId,omitempty"`
}

// QueueMessage is one durable FIFO entry.
type QueueMessage struct {
	ID           uint64     `cbor:"id"`
	Name         string     `cbor:"name"`
	Body         []byte     `cbor:"body"` // CBOR-encoded user payload
	CreatedAt    time.Time  `cbor:"createdAt"`
	FailureCount int        `cbor:"failureCount"`
	AvailableAt  time.Time  `cbor:"availableAt"`
	InFlight     bool       `cbor:"inFlight"`
	InFlightAt   *time.Time `cbor:"inFlightAt,omitempty"`
}

// QueueMetadata tracks the next id to allocate and the current size.
type QueueMetadata struct {
	NextID uint64 `cbor:"nextId"`
	Size   int    `cbor:"size"`
}

// CanSleepReason is the result of the sleep-readiness predicate.
type CanSleepReason string

const (
	CanSleepYes                       CanSleepReason = "Yes"
	CanSleepNotReady                  CanSleepReason = "NotReady"
	CanSleepNotStarted                CanSleepReason = "NotStarted"
	CanSleepActiveHonoHTTPRequests    CanSleepReason = "ActiveHonoHttpRequests"
	CanSleepActiveKeepAwake           CanSleepReason = "ActiveKeepAwake"
	CanSleepActiveRun                 CanSleepReason = "ActiveRun"
	CanSleepActiveConns               CanSleepReason = "ActiveConns"
	CanSleepActiveDisconnectCallbacks CanSleepReason = "ActiveDisconnectCallbacks"
)
