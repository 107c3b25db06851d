package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/persistence"
	"github.com/hypergolix/hypergolix/internal/postman"
)

// serverConn is one connected peer. Each runs two goroutines: readPump
// (decodes incoming Envelopes and dispatches them) and writePump (the sole
// writer to ws, forwarding from send plus periodic pings) — the same split
// arkeep's websocket.Client uses, generalized from a push-only protocol to
// a request/response one.
type serverConn struct {
	server *Server
	ws     *websocket.Conn
	send   chan Envelope
	logger *zap.Logger
	ctx    context.Context // connection-scoped; lets reply bail out once the connection is closing

	mu   sync.Mutex
	subs map[ghid.Ghid]*postman.Subscription
}

func (c *serverConn) run(ctx context.Context) {
	c.ctx = ctx
	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump never closes c.send: handle goroutines it spawned with `go
// c.handle(ctx, env)` may still be in flight after it returns, and sending
// on a closed channel would panic. writePump instead exits on ctx.Done,
// once ServeHTTP's deferred cancel fires after readPump returns.
func (c *serverConn) readPump(ctx context.Context) {
	defer func() {
		c.cleanupSubscriptions()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("remote: set read deadline", zap.Error(err))
		return
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.logger.Warn("remote: unexpected close", zap.Error(err))
			}
			return
		}

		if env.Op == OpDisconnect {
			return
		}

		// Each request is handled in its own goroutine so a slow Ingest
		// or Retrieve never stalls the read loop for other in-flight
		// requests on the same connection.
		go c.handle(ctx, env)
	}
}

func (c *serverConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("remote: set write deadline", zap.Error(err))
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				c.logger.Warn("remote: write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("remote: set write deadline", zap.Error(err))
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("remote: ping error", zap.Error(err))
				return
			}

		case <-ctx.Done():
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *serverConn) handle(ctx context.Context, env Envelope) {
	switch env.Op {
	case OpPublish:
		c.handlePublish(ctx, env)
	case OpGet:
		c.handleGet(ctx, env)
	case OpSubscribe:
		c.handleSubscribe(env)
	case OpUnsubscribe:
		c.handleUnsubscribe(env)
	case OpQueryBindings:
		c.handleQueryBindings(ctx, env)
	case OpQueryDebindings:
		c.handleQueryDebindings(ctx, env)
	default:
		c.reply(errEnvelope(env.Ghid, fmt.Errorf("remote: unknown op %q", env.Op)))
	}
}

func (c *serverConn) handlePublish(ctx context.Context, env Envelope) {
	var payload publishPayload
	if err := env.decodePayload(&payload); err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}

	// fromUpstream=true: a publish arriving over this connection already
	// came from outside this process. Ingesting it with fromUpstream=true
	// stores it and fans it out to local subscribers without trying to
	// push it back out through this server's own Salmonator, which would
	// otherwise bounce the same primitive between two peers forever.
	lite, err := c.server.core.Ingest(ctx, payload.Packed, true)
	if err != nil && !persistence.IsAlreadyPresent(err) {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}

	g := env.Ghid
	if lite != nil {
		g = lite.Ghid
	}
	result, err := newEnvelope(OpResult, g, nil)
	if err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}
	c.reply(result)
}

func (c *serverConn) handleGet(ctx context.Context, env Envelope) {
	packed, err := c.server.librarian.Retrieve(ctx, env.Ghid)
	if err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}
	result, err := newEnvelope(OpResult, env.Ghid, getResultPayload{Packed: packed})
	if err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}
	c.reply(result)
}

func (c *serverConn) handleSubscribe(env Envelope) {
	c.mu.Lock()
	if _, ok := c.subs[env.Ghid]; ok {
		c.mu.Unlock()
		result, _ := newEnvelope(OpResult, env.Ghid, nil)
		c.reply(result)
		return
	}
	c.mu.Unlock()

	sub := c.server.postman.Subscribe(env.Ghid, func(event postman.Event) {
		notificationGhid := event.Ghid
		if event.Primitive != nil {
			notificationGhid = event.Primitive.Ghid
		}
		notify, err := newEnvelope(OpNotify, event.Ghid, notifyPayload{NotificationGhid: notificationGhid})
		if err != nil {
			return
		}
		c.reply(notify)
	})

	c.mu.Lock()
	c.subs[env.Ghid] = sub
	c.mu.Unlock()

	result, err := newEnvelope(OpResult, env.Ghid, nil)
	if err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}
	c.reply(result)
}

func (c *serverConn) handleUnsubscribe(env Envelope) {
	c.mu.Lock()
	sub, ok := c.subs[env.Ghid]
	if ok {
		delete(c.subs, env.Ghid)
	}
	c.mu.Unlock()

	if ok {
		c.server.postman.Unsubscribe(sub)
	}
	result, err := newEnvelope(OpResult, env.Ghid, nil)
	if err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}
	c.reply(result)
}

func (c *serverConn) handleQueryBindings(ctx context.Context, env Envelope) {
	ghids := c.server.bookie.Binders(env.Ghid)
	result, err := newEnvelope(OpResult, env.Ghid, ghidListPayload{Ghids: ghids})
	if err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}
	c.reply(result)
}

func (c *serverConn) handleQueryDebindings(ctx context.Context, env Envelope) {
	ghids := c.server.bookie.Debinders(env.Ghid)
	result, err := newEnvelope(OpResult, env.Ghid, ghidListPayload{Ghids: ghids})
	if err != nil {
		c.reply(errEnvelope(env.Ghid, err))
		return
	}
	c.reply(result)
}

func (c *serverConn) cleanupSubscriptions() {
	c.mu.Lock()
	subs := make([]*postman.Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[ghid.Ghid]*postman.Subscription)
	c.mu.Unlock()

	for _, sub := range subs {
		c.server.postman.Unsubscribe(sub)
	}
}

// reply enqueues env for writePump to send, giving up once the connection's
// context is done (writePump has exited and nothing will ever drain
// c.send again) rather than leaking a blocked goroutine forever.
func (c *serverConn) reply(env Envelope) {
	select {
	case c.send <- env:
	case <-c.ctx.Done():
	}
}
