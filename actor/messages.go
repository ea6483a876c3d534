package actor

import (
	"context"

	"github.com/teranos/actorcore/codec"
)

// MessageType discriminates the framed protocol's envelope kinds.
type MessageType string

const (
	MessageAction       MessageType = "action"
	MessageSubscription MessageType = "subscription"
)

// Message is the framed envelope decoded by the transport layer before
// being handed to ProcessMessage. Action/Subscribe/Args are populated
// according to Type.
type Message struct {
	Type      MessageType `cbor:"type"`
	Action    string      `cbor:"action,omitempty"`
	Args      []byte      `cbor:"args,omitempty"`
	EventName string      `cbor:"eventName,omitempty"`
	Subscribe bool        `cbor:"subscribe,omitempty"`
}

// ActionResponse is what ProcessMessage sends back for a MessageAction.
type ActionResponse struct {
	Result []byte `cbor:"result,omitempty"`
	Error  string `cbor:"error,omitempty"`
}

// ProcessMessage dispatches a decoded framed message from conn:
// action requests to ExecuteAction, subscription requests to the event
// index. The encoded response, if any, is returned for the caller to
// send back over conn's driver.
func (o *Orchestrator[S, CS]) ProcessMessage(ctx context.Context, connID string, msg Message) ([]byte, error) {
	switch msg.Type {
	case MessageAction:
		result, err := o.ExecuteAction(ctx, msg.Action, msg.Args)
		resp := ActionResponse{}
		if err != nil {
			resp.Error = err.Error()
		} else {
			encoded, encErr := codec.Marshal(result)
			if encErr != nil {
				resp.Error = encErr.Error()
			} else {
				resp.Result = encoded
			}
		}
		return codec.Marshal(resp)

	case MessageSubscription:
		if msg.Subscribe {
			return nil, o.Subscribe(ctx, connID, msg.EventName)
		}
		return nil, o.Unsubscribe(ctx, connID, msg.EventName)

	default:
		return nil, Ef(KindInternal, "unknown message type %q", msg.Type)
	}
}

// HandleRawRequest invokes the onRequest hook. It
// requires onRequest to be configured and to return a non-nil response.
func (o *Orchestrator[S, CS]) HandleRawRequest(ctx context.Context, c *Conn[CS], request []byte) ([]byte, error) {
	v, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		defer o.scheduleSave()
		if o.hooks.OnRequest == nil {
			return nil, E(KindRequestHandlerNotDefined, "no onRequest handler configured")
		}
		resp, err := o.hooks.OnRequest(ctx, c, request)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, E(KindInvalidRequestHandlerResp, "onRequest returned no response")
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// HandleRawWebSocket invokes onWebSocket synchronously up to dispatch,
// so websocket open/message ordering is preserved; persistence is
// throttled once onWebSocket's work completes.
func (o *Orchestrator[S, CS]) HandleRawWebSocket(ctx context.Context, c *Conn[CS], ws ConnDriver, request []byte) error {
	_, err := o.submit(ctx, func(ctx context.Context) (any, error) {
		defer o.scheduleSave()
		if o.hooks.OnWebSocket == nil {
			return nil, E(KindFetchHandlerNotDefined, "no onWebSocket handler configured")
		}
		return nil, o.hooks.OnWebSocket(ctx, c, ws, request)
	})
	return err
}
