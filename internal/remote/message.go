// Package remote implements spec.md §6.2's remote peer protocol: a minimal
// request/response protocol over a persistent connection, with unsolicited
// push notifications on subscribed ghids. Both sides — server for other
// peers, client to an upstream — live here, grounded on arkeep's
// internal/websocket.Hub/Client connection-lifecycle shape and its
// internal/grpc server's shared-secret auth pattern (see DESIGN.md for why
// gRPC itself, which needs protoc-generated stubs this environment cannot
// produce, was not used instead).
package remote

import (
	"encoding/json"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/ghid"
)

// Op identifies the operation an Envelope carries, spec.md §6.2's
// publish/get/subscribe/unsubscribe/query_bindings/query_debindings/
// disconnect, plus the two envelope kinds only the server ever sends:
// a pushed subscription notification, and a request's result or error.
type Op string

const (
	OpPublish          Op = "publish"
	OpGet              Op = "get"
	OpSubscribe        Op = "subscribe"
	OpUnsubscribe      Op = "unsubscribe"
	OpQueryBindings    Op = "query_bindings"
	OpQueryDebindings  Op = "query_debindings"
	OpDisconnect       Op = "disconnect"
	OpNotify           Op = "notify"
	OpResult           Op = "result"
	OpError            Op = "error"
)

// Envelope is the wire frame for every message in both directions:
// {"op": ..., "ghid": ..., "payload": ...}.
type Envelope struct {
	Op      Op              `json:"op"`
	Ghid    ghid.Ghid       `json:"ghid"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// notifyPayload is OpNotify's payload: the (subscribed_ghid, notification_ghid)
// pair spec.md §6.2 names. Envelope.Ghid already carries subscribed_ghid, so
// only the notification ghid needs a payload.
type notifyPayload struct {
	NotificationGhid ghid.Ghid `json:"notification_ghid"`
}

// publishPayload carries a raw packed Golix primitive for OpPublish.
type publishPayload struct {
	Packed []byte `json:"packed"`
}

// getResultPayload is OpResult's payload in answer to an OpGet request.
type getResultPayload struct {
	Packed []byte `json:"packed"`
}

// ghidListPayload is OpResult's payload in answer to query_bindings /
// query_debindings.
type ghidListPayload struct {
	Ghids []ghid.Ghid `json:"ghids"`
}

// errorPayload is OpError's payload.
type errorPayload struct {
	Message string `json:"message"`
}

func newEnvelope(op Op, g ghid.Ghid, payload interface{}) (Envelope, error) {
	env := Envelope{Op: op, Ghid: g}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("remote: encode %s envelope: %w", op, err)
	}
	env.Payload = raw
	return env, nil
}

func (e Envelope) decodePayload(out interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("remote: %s envelope carries no payload", e.Op)
	}
	return json.Unmarshal(e.Payload, out)
}

func errEnvelope(g ghid.Ghid, err error) Envelope {
	env, encodeErr := newEnvelope(OpError, g, errorPayload{Message: err.Error()})
	if encodeErr != nil {
		// errorPayload is always marshalable; this path is unreachable in
		// practice, but fall back to an empty-payload error rather than drop
		// the frame.
		return Envelope{Op: OpError, Ghid: g}
	}
	return env
}
