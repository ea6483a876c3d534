// Package wsconn is the reference hibernatable websocket actor.ConnDriver
// implementation, built on gorilla/websocket the way teranos/QNTX's
// server.Client wraps a *websocket.Conn with read/write pumps. The
// actor runtime core only ever sees it through the narrow
// actor.ConnDriver interface.
package wsconn

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teranos/actorcore/logger"
)

// Timeout constants lifted from teranos/QNTX's server/client.go, which
// cites the same gorilla chat-example defaults.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// maxMessageSize bounds a single framed message. The actor protocol
	// here carries small CBOR envelopes, not QNTX's multi-megabyte video
	// frames, so this is far smaller than QNTX's 10MB limit.
	maxMessageSize = 256 * 1024
)

// RequestIDHeader is the header a hibernatable reconnect carries its
// correlation id in, analogous to a Cloudflare Durable Object
// hibernatable websocket tag. Callers may instead extract this from a
// signed cookie; RequestIDFromRequest is the only place that matters.
const RequestIDHeader = "X-Actor-Request-Id"

// Upgrader is a gorilla/websocket.Upgrader with origin checking
// delegated to a caller-supplied function, mirroring
// teranos/QNTX's server.getAxUpgrader/checkOrigin split.
type Upgrader struct {
	upgrader    websocket.Upgrader
	checkOrigin func(r *http.Request) bool
}

// NewUpgrader builds an Upgrader. A nil checkOrigin allows all origins.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *Upgrader {
	u := &Upgrader{checkOrigin: checkOrigin}
	u.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if checkOrigin == nil {
				return true
			}
			return checkOrigin(r)
		},
	}
	return u
}

// RequestIDFromRequest extracts the hibernatable correlation id, if
// any, from the upgrade request.
func RequestIDFromRequest(r *http.Request) ([]byte, bool) {
	v := r.Header.Get(RequestIDHeader)
	if v == "" {
		return nil, false
	}
	return []byte(v), true
}

// Upgrade upgrades w/r to a websocket and wraps it in a Conn.
// hibernatable controls whether the resulting Conn reports itself as
// reconnectable by RequestID.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, hibernatable bool) (*Conn, error) {
	wsConn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	requestID, _ := RequestIDFromRequest(r)
	c := &Conn{
		ws:           wsConn,
		hibernatable: hibernatable,
		requestID:    requestID,
		send:         make(chan []byte, 64),
		log:          logger.ComponentLogger("wsconn"),
	}
	go c.writePump()
	return c, nil
}

// Conn implements actor.ConnDriver over a gorilla websocket connection.
// It never holds a pointer back to the owning orchestrator — the host process is responsible for
// routing inbound frames read by ReadLoop to the right
// actor.Orchestrator via whatever registry it already holds.
type Conn struct {
	ws           *websocket.Conn
	hibernatable bool
	requestID    []byte

	send chan []byte

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex

	log interface {
		Debugw(string, ...interface{})
		Warnw(string, ...interface{})
		Errorw(string, ...interface{})
	}
}

// Send implements actor.ConnDriver.
func (c *Conn) Send(msg []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return websocket.ErrCloseSent
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errOutgoingQueueFull
	}
}

var errOutgoingQueueFull = &sendQueueFullError{}

type sendQueueFullError struct{}

func (*sendQueueFullError) Error() string { return "wsconn: outgoing send queue is full" }

// Close implements actor.ConnDriver.
func (c *Conn) Close(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.send)
		c.log.Debugw("closing websocket connection", "reason", reason)
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
		err = c.ws.Close()
	})
	return err
}

// RequestID implements actor.ConnDriver.
func (c *Conn) RequestID() ([]byte, bool) {
	if !c.hibernatable || len(c.requestID) == 0 {
		return nil, false
	}
	return c.requestID, true
}

// Hibernatable implements actor.ConnDriver.
func (c *Conn) Hibernatable() bool { return c.hibernatable }

// ReadLoop blocks reading framed messages off the websocket and invokes
// onMessage for each, matching teranos/QNTX's readPump/routeMessage
// split. It returns when the connection closes: nil when the peer sent a
// normal or going-away close frame, the read error otherwise. The
// caller is responsible for then telling the orchestrator the
// connection disconnected, clean for a nil return and unclean otherwise.
func (c *Conn) ReadLoop(onMessage func(msg []byte)) error {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		onMessage(msg)
	}
}

// writePump drains the send channel and pings on an interval, the same
// structure as teranos/QNTX's Client.writePump but framed-bytes only
// instead of multiple typed channels (graph/log/generic), since this
// driver only ever carries the actor protocol's CBOR envelopes.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.log.Warnw("websocket write failed", logger.FieldError, err.Error())
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
