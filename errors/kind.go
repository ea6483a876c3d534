package errors

import crdb "github.com/cockroachdb/errors"

// Kind classifies a runtime error into one of the taxonomy entries an
// actor instance can surface to its caller or the wire protocol.
type Kind string

const (
	KindActorNotReady                Kind = "ActorNotReady"
	KindActorStopping                Kind = "ActorStopping"
	KindActorAborted                 Kind = "ActorAborted"
	KindActionNotFound               Kind = "ActionNotFound"
	KindActionTimedOut               Kind = "ActionTimedOut"
	KindStateNotEnabled              Kind = "StateNotEnabled"
	KindVarsNotEnabled               Kind = "VarsNotEnabled"
	KindDatabaseNotEnabled           Kind = "DatabaseNotEnabled"
	KindConnStateNotEnabled          Kind = "ConnStateNotEnabled"
	KindInvalidStateType             Kind = "InvalidStateType"
	KindRequestHandlerNotDefined     Kind = "RequestHandlerNotDefined"
	KindInvalidRequestHandlerResp    Kind = "InvalidRequestHandlerResponse"
	KindFetchHandlerNotDefined       Kind = "FetchHandlerNotDefined"
	KindQueueFull                    Kind = "QueueFull"
	KindQueueMessageInvalid          Kind = "QueueMessageInvalid"
	KindQueueMessageTooLarge         Kind = "QueueMessageTooLarge"
	KindQueueMessagePending          Kind = "QueueMessagePending"
	KindQueueAlreadyCompleted        Kind = "QueueAlreadyCompleted"
	KindOutgoingMessageTooLong       Kind = "OutgoingMessageTooLong"
	KindForbidden                    Kind = "Forbidden"
	KindInvalidCanInvokeResponse     Kind = "InvalidCanInvokeResponse"
	KindUnreachable                  Kind = "Unreachable"
	KindInternal                     Kind = "Internal"
	KindDeadlineExceeded             Kind = "DeadlineExceeded"
)

// kindErr wraps an error with a taxonomy Kind and optional structured
// detail fields (InvalidStateType.path, QueueMessageTooLarge.size/limit, ...).
type kindErr struct {
	error
	kind Kind
	// Path is set for InvalidStateType and QueueMessageInvalid.
	Path string
	// Size and Limit are set for QueueMessageTooLarge.
	Size  int
	Limit int
}

func (k *kindErr) Unwrap() error { return k.error }

// WithKind tags err with a taxonomy Kind, preserving the cockroachdb
// stack trace and any hints/details already attached.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindErr{error: err, kind: kind}
}

// NewKind builds a new error of the given kind with the supplied message.
func NewKind(kind Kind, msg string) error {
	return WithKind(crdb.New(msg), kind)
}

// NewKindf builds a new error of the given kind with a formatted message.
func NewKindf(kind Kind, format string, args ...interface{}) error {
	return WithKind(crdb.Newf(format, args...), kind)
}

// KindOf extracts the taxonomy Kind attached to err, if any.
func KindOf(err error) (Kind, bool) {
	var ke *kindErr
	if crdb.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}

// IsKind reports whether err (or any error it wraps) carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// WithPath attaches a path detail to an error built by WithKind/NewKind
// (used by InvalidStateType and QueueMessageInvalid).
func WithPath(err error, path string) error {
	var ke *kindErr
	if crdb.As(err, &ke) {
		ke.Path = path
		return ke
	}
	return err
}

// WithSizeLimit attaches size/limit details (used by QueueMessageTooLarge).
func WithSizeLimit(err error, size, limit int) error {
	var ke *kindErr
	if crdb.As(err, &ke) {
		ke.Size = size
		ke.Limit = limit
		return ke
	}
	return err
}
