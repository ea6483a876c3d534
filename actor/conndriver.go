package actor

// ConnDriver is the narrow capability interface a transport
// implementation (wsconn.Conn, a raw HTTP responder, a test double)
// presents to the Connection Manager. Conn never holds a pointer back
// to its owning Orchestrator; it only ever sends bytes or asks for its
// own identity.
type ConnDriver interface {
	// Send writes one framed message to the client. Errors are logged by
	// the Event/Connection manager and do not propagate further, except
	// for a declared size-limit error which callers may choose to
	// surface.
	Send(msg []byte) error

	// Close tears down the underlying transport with a short reason
	// string used only for logging ("reconnecting", "onConnect failed",
	// "clean disconnect", ...).
	Close(reason string) error

	// RequestID returns the hibernatable-websocket correlation id
	// extracted from the upgrade request, if the driver is hibernatable
	// and the request carried one.
	RequestID() ([]byte, bool)

	// Hibernatable reports whether this driver supports hibernation and
	// reconnection by RequestID. Non-websocket drivers unconditionally
	// return false.
	Hibernatable() bool
}
