// Package postman implements spec.md §4.7's subscription/notification
// broker: subscribe(ghid, callback) fires on a new dynamic frame, a
// debinding, or an arriving GARQ addressed to the subscribed ghid.
//
// Structured directly on arkeep's internal/websocket.Hub: a single-writer
// event loop owns the topic registry (register/unregister channels, no
// mutex needed for mutation), while Notify takes the shortest possible
// read-lock to copy the target set before firing callbacks outside the
// lock, exactly as Hub.Publish does for its WebSocket clients.
package postman

import (
	"context"
	"sync"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
)

// EventKind distinguishes the three notification triggers spec.md §4.7
// names.
type EventKind int

const (
	// EventNewFrame fires when a dynamic binding gets a new current frame.
	EventNewFrame EventKind = iota
	// EventDebind fires when the subscribed ghid is debound.
	EventDebind
	// EventRequest fires when a GARQ arrives addressed to the subscribed
	// ghid as recipient.
	EventRequest
)

// Event is delivered to a subscriber's callback.
type Event struct {
	Ghid    ghid.Ghid   // the ghid that was subscribed to
	Kind    EventKind
	Primitive *golix.Parsed // the GOBD, GDXX, or GARQ that triggered this event
}

// Callback is invoked once per relevant event. It must not block; slow
// subscribers only delay their own notification goroutine, never other
// subscribers or the event loop, since Notify fires each callback in its
// own goroutine.
type Callback func(Event)

type subscription struct {
	ghid ghid.Ghid
	cb   Callback
}

// Subscription is an opaque handle returned by Subscribe, passed back to
// Unsubscribe.
type Subscription struct {
	sub *subscription
}

// Postman is the subscription broker.
type Postman struct {
	clients map[*subscription]struct{}
	topics  map[ghid.Ghid]map[*subscription]struct{}

	mu sync.RWMutex

	register   chan *subscription
	unregister chan *subscription
	stopped    chan struct{}
}

// New creates an idle Postman. Call Run in a goroutine to start it.
func New() *Postman {
	return &Postman{
		clients:    make(map[*subscription]struct{}),
		topics:     make(map[ghid.Ghid]map[*subscription]struct{}),
		register:   make(chan *subscription, 64),
		unregister: make(chan *subscription, 64),
		stopped:    make(chan struct{}),
	}
}

// Run starts the event loop. Must be called exactly once, in its own
// goroutine; it exits when ctx is cancelled.
func (p *Postman) Run(ctx context.Context) {
	defer close(p.stopped)

	for {
		select {
		case sub := <-p.register:
			p.mu.Lock()
			p.clients[sub] = struct{}{}
			if p.topics[sub.ghid] == nil {
				p.topics[sub.ghid] = make(map[*subscription]struct{})
			}
			p.topics[sub.ghid][sub] = struct{}{}
			p.mu.Unlock()

		case sub := <-p.unregister:
			p.mu.Lock()
			if _, ok := p.clients[sub]; ok {
				delete(p.clients, sub)
				delete(p.topics[sub.ghid], sub)
				if len(p.topics[sub.ghid]) == 0 {
					delete(p.topics, sub.ghid)
				}
			}
			p.mu.Unlock()

		case <-ctx.Done():
			p.mu.Lock()
			p.clients = make(map[*subscription]struct{})
			p.topics = make(map[ghid.Ghid]map[*subscription]struct{})
			p.mu.Unlock()
			return
		}
	}
}

// Subscribe registers cb to fire on events for g. Returns a handle for
// Unsubscribe.
func (p *Postman) Subscribe(g ghid.Ghid, cb Callback) *Subscription {
	sub := &subscription{ghid: g, cb: cb}
	p.register <- sub
	return &Subscription{sub: sub}
}

// Unsubscribe removes a previously-returned Subscription.
func (p *Postman) Unsubscribe(s *Subscription) {
	p.unregister <- s.sub
}

// Notify fires every subscriber of event.Ghid with event, one goroutine per
// subscriber, per spec.md §4.7's "one callback invocation per relevant
// event" with no replay for subscribers registered after the fact.
func (p *Postman) Notify(event Event) {
	p.mu.RLock()
	targets := p.topics[event.Ghid]
	subs := make([]*subscription, 0, len(targets))
	for s := range targets {
		subs = append(subs, s)
	}
	p.mu.RUnlock()

	for _, s := range subs {
		cb := s.cb
		go cb(event)
	}
}

// NotifyGOBD fires EventNewFrame for the dynamic ghid a new frame advances.
func (p *Postman) NotifyGOBD(frame *golix.Parsed) {
	p.Notify(Event{Ghid: frame.Dynamic, Kind: EventNewFrame, Primitive: frame})
}

// NotifyGDXX fires EventDebind for the ghid a debinding targets.
func (p *Postman) NotifyGDXX(debind *golix.Parsed) {
	p.Notify(Event{Ghid: debind.Target, Kind: EventDebind, Primitive: debind})
}

// NotifyGARQ fires EventRequest for a request's recipient.
func (p *Postman) NotifyGARQ(request *golix.Parsed) {
	p.Notify(Event{Ghid: request.Recipient, Kind: EventRequest, Primitive: request})
}
