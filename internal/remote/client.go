package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
)

// NotifyHandler is invoked once per pushed notification for a subscribed
// ghid, spec.md §6.2's "(subscribed_ghid, notification_ghid) pairs". It must
// not block; Client's read loop stalls for every subscriber until it
// returns, since frames on a single connection are strictly ordered.
type NotifyHandler func(notificationGhid ghid.Ghid)

// Client is the remote peer protocol's client side: the connection this
// process keeps open to its upstream. It implements persistence.Salmonator
// (PushUpstream) and is also used directly by callers needing an on-demand
// Get or a subscription (oracle's remote fetch-on-stall path).
//
// Request/response calls are serialized one at a time over the connection
// under callMu — the protocol spec.md §6.2 describes carries no request id
// to multiplex concurrent calls, so a second caller simply waits its turn
// rather than risk a response being matched to the wrong request.
type Client struct {
	ws     *websocket.Conn
	logger *zap.Logger

	callMu  sync.Mutex
	respCh  chan Envelope

	notifyMu       sync.Mutex
	notifyHandlers map[ghid.Ghid]NotifyHandler

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to a remote peer's server at url (e.g. "ws://host:port/remote"),
// presenting sharedSecret in the X-Hypergolix-Secret header if non-empty.
func Dial(ctx context.Context, url, sharedSecret string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	header := http.Header{}
	if sharedSecret != "" {
		header.Set(SharedSecretHeader, sharedSecret)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", url, err)
	}

	c := &Client{
		ws:             ws,
		logger:         logger.Named("remote.client"),
		respCh:         make(chan Envelope, 1),
		notifyHandlers: make(map[ghid.Ghid]NotifyHandler),
		done:           make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			c.logger.Warn("remote: client read loop exiting", zap.Error(err))
			return
		}

		if env.Op == OpNotify {
			c.dispatchNotify(env)
			continue
		}

		select {
		case c.respCh <- env:
		default:
			// No call is currently waiting; drop rather than block the
			// read loop on a response nobody asked for.
		}
	}
}

func (c *Client) dispatchNotify(env Envelope) {
	var payload notifyPayload
	if err := env.decodePayload(&payload); err != nil {
		c.logger.Warn("remote: malformed notify payload", zap.Error(err))
		return
	}

	c.notifyMu.Lock()
	handler, ok := c.notifyHandlers[env.Ghid]
	c.notifyMu.Unlock()
	if ok {
		handler(payload.NotificationGhid)
	}
}

// call sends a request and waits for its matching response, serialized
// against every other caller of call on this Client.
func (c *Client) call(ctx context.Context, op Op, g ghid.Ghid, payload interface{}) (Envelope, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	req, err := newEnvelope(op, g, payload)
	if err != nil {
		return Envelope{}, err
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return Envelope{}, fmt.Errorf("remote: set write deadline: %w", err)
	}
	if err := c.ws.WriteJSON(req); err != nil {
		return Envelope{}, fmt.Errorf("remote: %s: write: %w", op, err)
	}

	select {
	case resp := <-c.respCh:
		if resp.Op == OpError {
			var errPayload errorPayload
			if decodeErr := resp.decodePayload(&errPayload); decodeErr == nil {
				return Envelope{}, fmt.Errorf("remote: %s: %s", op, errPayload.Message)
			}
			return Envelope{}, fmt.Errorf("remote: %s: remote error", op)
		}
		return resp, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-c.done:
		return Envelope{}, fmt.Errorf("remote: %s: connection closed", op)
	}
}

// PushUpstream implements persistence.Salmonator: publishes packed to the
// upstream peer.
func (c *Client) PushUpstream(ctx context.Context, packed []byte) error {
	p, err := golix.Unpack(packed)
	g := ghid.Nil
	if err == nil {
		g = p.Ghid
	}
	_, err = c.call(ctx, OpPublish, g, publishPayload{Packed: packed})
	return err
}

// Get fetches a primitive by ghid from the upstream peer — the remote
// fetch-on-stall path a GAO's Pull falls back to when the local Librarian
// doesn't yet have a container it needs.
func (c *Client) Get(ctx context.Context, g ghid.Ghid) ([]byte, error) {
	resp, err := c.call(ctx, OpGet, g, nil)
	if err != nil {
		return nil, err
	}
	var payload getResultPayload
	if err := resp.decodePayload(&payload); err != nil {
		return nil, fmt.Errorf("remote: get: %w", err)
	}
	return payload.Packed, nil
}

// Subscribe registers handler to fire on every notification pushed for g,
// and tells the upstream to start sending them.
func (c *Client) Subscribe(ctx context.Context, g ghid.Ghid, handler NotifyHandler) error {
	c.notifyMu.Lock()
	c.notifyHandlers[g] = handler
	c.notifyMu.Unlock()

	if _, err := c.call(ctx, OpSubscribe, g, nil); err != nil {
		c.notifyMu.Lock()
		delete(c.notifyHandlers, g)
		c.notifyMu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe stops notifications for g.
func (c *Client) Unsubscribe(ctx context.Context, g ghid.Ghid) error {
	c.notifyMu.Lock()
	delete(c.notifyHandlers, g)
	c.notifyMu.Unlock()

	_, err := c.call(ctx, OpUnsubscribe, g, nil)
	return err
}

// QueryBindings returns the ghids of every live binding targeting g.
func (c *Client) QueryBindings(ctx context.Context, g ghid.Ghid) ([]ghid.Ghid, error) {
	resp, err := c.call(ctx, OpQueryBindings, g, nil)
	if err != nil {
		return nil, err
	}
	var payload ghidListPayload
	if err := resp.decodePayload(&payload); err != nil {
		return nil, fmt.Errorf("remote: query_bindings: %w", err)
	}
	return payload.Ghids, nil
}

// QueryDebindings returns the ghids of every debinding targeting g.
func (c *Client) QueryDebindings(ctx context.Context, g ghid.Ghid) ([]ghid.Ghid, error) {
	resp, err := c.call(ctx, OpQueryDebindings, g, nil)
	if err != nil {
		return nil, err
	}
	var payload ghidListPayload
	if err := resp.decodePayload(&payload); err != nil {
		return nil, fmt.Errorf("remote: query_debindings: %w", err)
	}
	return payload.Ghids, nil
}

// Close sends disconnect and tears down the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		env, encErr := newEnvelope(OpDisconnect, ghid.Nil, nil)
		if encErr == nil {
			_ = c.ws.WriteJSON(env)
		}
		err = c.ws.Close()
	})
	return err
}
