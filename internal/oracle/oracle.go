// Package oracle is the registry of live GAOs described by spec.md's
// component table: instantiate a brand-new object, or fetch the one
// already live for a ghid rather than build a second in-memory copy of
// the same chain.
//
// Modeled directly on arkeep's agentmanager.Manager: one RWMutex-guarded
// map keyed by identity, Register/Deregister-shaped mutators, zap logging
// on every lifecycle transition.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hypergolix/hypergolix/internal/gao"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/postman"
	"github.com/hypergolix/hypergolix/internal/privateer"
)

// FrameResolver is the narrow Bookie surface Oracle needs to turn a dynamic
// object's stable identity into its current GOBD frame ghid, the form
// GAO.Pull actually expects (Librarian.Summarize is a raw content-addressed
// lookup; it has no notion of a dynamic object's "latest" frame on its
// own). Satisfied by *bookie.Bookie.
type FrameResolver interface {
	CurrentFrame(dynamic ghid.Ghid) (ghid.Ghid, bool)
}

// Oracle is the in-memory registry of live GAOs.
type Oracle struct {
	mu      sync.RWMutex
	objects map[ghid.Ghid]*gao.GAO

	librarian gao.Librarian
	core      gao.Ingester
	postman   *postman.Postman
	privateer *privateer.Privateer
	golixCore *golix.GolixCore
	bookie    FrameResolver
	remote    gao.RemoteFetcher
	legroom   int
	logger    *zap.Logger
}

// Config wires Oracle's dependencies, forwarded to every GAO it builds.
type Config struct {
	Librarian gao.Librarian
	Core      gao.Ingester
	Postman   *postman.Postman
	Privateer *privateer.Privateer
	GolixCore *golix.GolixCore

	// Bookie resolves a dynamic ghid to its current frame for the initial
	// Pull of an object Oracle hasn't seen before (Get on a ghid with no
	// live GAO registered yet). Required whenever Get may be called for a
	// dynamic object not already registered.
	Bookie FrameResolver

	// Remote, forwarded to every GAO as gao.Config.Remote, enables
	// fetch-on-stall for a pulled frame whose container this process
	// doesn't have locally yet. Optional; left nil, a missing container
	// simply fails the Pull.
	Remote gao.RemoteFetcher

	Legroom int
	Logger  *zap.Logger
}

// New builds an empty Oracle.
func New(cfg Config) *Oracle {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Oracle{
		objects:   make(map[ghid.Ghid]*gao.GAO),
		librarian: cfg.Librarian,
		core:      cfg.Core,
		postman:   cfg.Postman,
		privateer: cfg.Privateer,
		golixCore: cfg.GolixCore,
		bookie:    cfg.Bookie,
		remote:    cfg.Remote,
		legroom:   cfg.Legroom,
		logger:    logger.Named("oracle"),
	}
}

// NewStaticObject creates a new static (immutable) GEOC+GOBS pair and
// registers the resulting object under its container ghid. Static objects
// never need a live GAO for later mutation, but registering them keeps
// Get consistent for callers who don't distinguish static from dynamic.
func (o *Oracle) NewStaticObject(ctx context.Context, author ghid.Ghid, payload []byte, hold bool) (ghid.Ghid, error) {
	secret, err := gao.RandomSecret()
	if err != nil {
		return ghid.Nil, fmt.Errorf("oracle: new static object: %w", err)
	}

	container, err := o.golixCore.MakeContainer(author, secret, payload)
	if err != nil {
		return ghid.Nil, fmt.Errorf("oracle: new static object: %w", err)
	}
	if err := o.privateer.Stage(ctx, container.Ghid, secret); err != nil {
		return ghid.Nil, fmt.Errorf("oracle: new static object: %w", err)
	}
	if _, err := o.core.Ingest(ctx, container.Packed, false); err != nil {
		o.privateer.Abandon(container.Ghid)
		return ghid.Nil, fmt.Errorf("oracle: new static object: %w", err)
	}
	if err := o.privateer.Commit(ctx, container.Ghid, false); err != nil {
		return ghid.Nil, fmt.Errorf("oracle: new static object: %w", err)
	}

	if hold {
		binding, err := o.golixCore.MakeBindingStatic(author, container.Ghid)
		if err != nil {
			return ghid.Nil, fmt.Errorf("oracle: new static object: hold: %w", err)
		}
		if _, err := o.core.Ingest(ctx, binding.Packed, false); err != nil {
			return ghid.Nil, fmt.Errorf("oracle: new static object: hold: %w", err)
		}
	}

	o.logger.Info("created static object",
		zap.String("ghid", container.Ghid.String()),
		zap.Bool("held", hold),
	)
	return container.Ghid, nil
}

// NewDynamicObject mints a fresh dynamic identity, builds its first GAO
// and publishes its first frame, then registers it.
func (o *Oracle) NewDynamicObject(ctx context.Context, author ghid.Ghid, state interface{}, masterSecret *golix.Secret, newState func() interface{}) (*gao.GAO, error) {
	dynamic, err := ghid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("oracle: new dynamic object: %w", err)
	}
	return o.NewDynamicObjectWithGhid(ctx, dynamic, author, state, masterSecret, newState, nil)
}

// NewDynamicObjectWithGhid is NewDynamicObject generalized to an explicit,
// caller-chosen stable ghid and codec rather than a freshly-minted random
// one. Used by the bootstrap chain, whose primary manifest's ghid is the
// account's own user_id rather than a random identity, and whose payload is
// a fixed-layout byte string rather than a JSON-codable value.
func (o *Oracle) NewDynamicObjectWithGhid(ctx context.Context, g ghid.Ghid, author ghid.Ghid, state interface{}, masterSecret *golix.Secret, newState func() interface{}, codec gao.Codec) (*gao.GAO, error) {
	obj := gao.New(gao.Config{
		Ghid:         g,
		Dynamic:      true,
		Author:       author,
		Legroom:      o.legroom,
		MasterSecret: masterSecret,
		Codec:        codec,
		NewState:     newState,
		Core:         o.core,
		Librarian:    o.librarian,
		Privateer:    o.privateer,
		GolixCore:    o.golixCore,
		Remote:       o.remote,
	})

	if err := obj.Push(ctx, state); err != nil {
		return nil, fmt.Errorf("oracle: new dynamic object with ghid: %w", err)
	}

	o.register(g, obj)
	return obj, nil
}

// Get returns the live GAO for identity ghid g, constructing and
// subscribing one via an initial Pull if none is registered yet.
func (o *Oracle) Get(ctx context.Context, g ghid.Ghid, dynamic bool, author ghid.Ghid, masterSecret *golix.Secret, newState func() interface{}) (*gao.GAO, error) {
	return o.GetWithCodec(ctx, g, dynamic, author, masterSecret, newState, nil)
}

// GetWithCodec is Get generalized to a caller-chosen Codec, for state
// shapes the default JSONCodec can't round-trip (the bootstrap chain's
// primary manifest, a fixed-layout byte string rather than a JSON value).
func (o *Oracle) GetWithCodec(ctx context.Context, g ghid.Ghid, dynamic bool, author ghid.Ghid, masterSecret *golix.Secret, newState func() interface{}, codec gao.Codec) (*gao.GAO, error) {
	o.mu.RLock()
	obj, ok := o.objects[g]
	o.mu.RUnlock()
	if ok {
		return obj, nil
	}

	obj = gao.New(gao.Config{
		Ghid:         g,
		Dynamic:      dynamic,
		Author:       author,
		Legroom:      o.legroom,
		MasterSecret: masterSecret,
		Codec:        codec,
		NewState:     newState,
		Core:         o.core,
		Librarian:    o.librarian,
		Privateer:    o.privateer,
		GolixCore:    o.golixCore,
		Remote:       o.remote,
	})

	if dynamic {
		if o.bookie == nil {
			return nil, fmt.Errorf("oracle: get: no Bookie configured to resolve dynamic ghid %s to its current frame", g)
		}
		frame, ok := o.bookie.CurrentFrame(g)
		if !ok {
			return nil, fmt.Errorf("oracle: get: no known frame for dynamic ghid %s", g)
		}
		if err := obj.Pull(ctx, frame); err != nil {
			return nil, fmt.Errorf("oracle: get: initial pull: %w", err)
		}
	}

	o.register(g, obj)
	return obj, nil
}

func (o *Oracle) register(g ghid.Ghid, obj *gao.GAO) {
	o.mu.Lock()
	if _, ok := o.objects[g]; ok {
		o.mu.Unlock()
		o.logger.Warn("object already registered, keeping existing instance", zap.String("ghid", g.String()))
		return
	}
	o.objects[g] = obj
	count := len(o.objects)
	o.mu.Unlock()

	if o.postman != nil {
		o.postman.Subscribe(g, func(event postman.Event) {
			// event.Ghid is the topic the event was routed on (the dynamic
			// ghid for a new frame, the target for a debind); the record
			// Pull must Summarize, though, is the triggering primitive's
			// own content-addressed ghid.
			notificationGhid := event.Ghid
			if event.Primitive != nil {
				notificationGhid = event.Primitive.Ghid
			}
			if err := obj.Pull(context.Background(), notificationGhid); err != nil {
				o.logger.Warn("pull on notify failed",
					zap.String("ghid", g.String()),
					zap.Error(err),
				)
			}
		})
	}

	o.logger.Info("object registered", zap.String("ghid", g.String()), zap.Int("total_live", count))
}

// Forget removes g from the live registry, e.g. once its GAO reports
// IsAlive() == false and the caller is done with it. Does not delete the
// object itself — only this process's in-memory handle.
func (o *Oracle) Forget(g ghid.Ghid) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.objects[g]; !ok {
		return
	}
	delete(o.objects, g)
	o.logger.Info("object forgotten", zap.String("ghid", g.String()), zap.Int("total_live", len(o.objects)))
}

// Count returns the number of currently-registered live objects.
func (o *Oracle) Count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.objects)
}
