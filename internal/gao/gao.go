// Package gao implements spec.md §4.11: the Golix-Aware Object, the
// per-object lifecycle every higher-level application state lives inside —
// push a new frame, pull an update, heal the secret ratchet, freeze into a
// static hold, or delete.
//
// Every operation is serialized by a per-object mutex (spec.md §5: "push
// and pull are serialized by a per-object mutex"), and push follows a
// stage/commit/abandon scope-guard discipline so a failure partway through
// a publish never leaves Privateer holding a secret with no committed
// frame behind it.
package gao

import (
	"context"
	"fmt"
	"sync"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
	"github.com/hypergolix/hypergolix/internal/persistence"
	"github.com/hypergolix/hypergolix/internal/privateer"
	"github.com/hypergolix/hypergolix/internal/ratchet"
)

// Librarian is the narrow read surface GAO needs.
type Librarian interface {
	Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error)
	Retrieve(ctx context.Context, g ghid.Ghid) ([]byte, error)
}

// Ingester is the narrow PersistenceCore surface GAO drives every push and
// freeze/hold/delete operation through.
type Ingester interface {
	Ingest(ctx context.Context, packed []byte, fromUpstream bool) (*golix.Parsed, error)
}

// RemoteFetcher is the fetch-on-stall collaborator named in spec.md §5's
// Timeouts subsection: when a pulled frame targets a container this
// process's Librarian doesn't have yet, fetch it from the upstream remote
// instead of failing the Pull outright. Satisfied by *remote.Client.
type RemoteFetcher interface {
	Get(ctx context.Context, g ghid.Ghid) ([]byte, error)
}

// GAO is one Golix-Aware Object: the per-object state of spec.md §3.6 plus
// the dependencies it drives ingests and secret management through.
type GAO struct {
	mu sync.Mutex

	ghid    ghid.Ghid
	dynamic bool
	author  ghid.Ghid
	legroom int

	frameHistory  []ghid.Ghid // newest first
	targetHistory []ghid.Ghid // parallel to frameHistory; Nil where unknown

	isAlive bool
	state   interface{}

	masterSecret *golix.Secret // set only for bootstrap-chain GAOs

	codec     Codec
	newState  func() interface{}
	core      Ingester
	librarian Librarian
	privateer *privateer.Privateer
	golixCore *golix.GolixCore
	remote    RemoteFetcher
}

// Config constructs a new GAO.
type Config struct {
	Ghid         ghid.Ghid
	Dynamic      bool
	Author       ghid.Ghid
	Legroom      int
	MasterSecret *golix.Secret
	Codec        Codec

	// NewState returns a freshly-allocated pointer to this object's state
	// type, used as the unmarshal target on every Pull. Defaults to
	// *map[string]interface{} when left nil.
	NewState func() interface{}

	Core      Ingester
	Librarian Librarian
	Privateer *privateer.Privateer
	GolixCore *golix.GolixCore

	// Remote, if set, is consulted by fetchAndOpen when the local Librarian
	// doesn't yet have a pulled frame's target container (§5's Timeouts
	// subsection). Left nil, a missing container simply fails the Pull.
	Remote RemoteFetcher
}

// New constructs a freshly-instantiated GAO (no prior frame history). Used
// both for a brand-new object and, by Oracle, to wrap a GAO whose history
// will be populated by an initial Pull.
func New(cfg Config) *GAO {
	codec := cfg.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	legroom := cfg.Legroom
	if legroom <= 0 {
		legroom = ratchet.MaxLegroom
	}
	newState := cfg.NewState
	if newState == nil {
		newState = func() interface{} { return &map[string]interface{}{} }
	}
	return &GAO{
		ghid:         cfg.Ghid,
		dynamic:      cfg.Dynamic,
		author:       cfg.Author,
		legroom:      legroom,
		isAlive:      true,
		masterSecret: cfg.MasterSecret,
		codec:        codec,
		newState:     newState,
		core:         cfg.Core,
		librarian:    cfg.Librarian,
		privateer:    cfg.Privateer,
		golixCore:    cfg.GolixCore,
		remote:       cfg.Remote,
	}
}

// Ghid returns this object's stable identity.
func (g *GAO) Ghid() ghid.Ghid { return g.ghid }

// IsAlive reports whether this object has been deleted.
func (g *GAO) IsAlive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.isAlive
}

// State returns the currently-applied state. Callers must not mutate the
// returned value's underlying structure concurrently with Push/Pull.
func (g *GAO) State() interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Push serializes state, obtains the next secret (first-time or ratcheted),
// constructs a container and an advancing dynamic frame, and ingests both.
// Only valid for dynamic objects.
func (g *GAO) Push(ctx context.Context, state interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dynamic {
		return fmt.Errorf("%w: push on static object", herrors.ErrLocallyImmutable)
	}
	if !g.isAlive {
		return herrors.ErrDeadObject
	}

	payload, err := g.codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("gao: push: marshal: %w", err)
	}

	secret, err := g.nextSecret(ctx)
	if err != nil {
		return fmt.Errorf("gao: push: %w", err)
	}

	container, err := g.golixCore.MakeContainer(g.author, secret, payload)
	if err != nil {
		return fmt.Errorf("gao: push: make container: %w", err)
	}

	if err := g.privateer.Stage(ctx, container.Ghid, secret); err != nil {
		return fmt.Errorf("gao: push: stage: %w", err)
	}

	succeeded := false
	defer func() {
		if !succeeded {
			g.privateer.Abandon(container.Ghid)
			_ = g.pullLocked(ctx, g.ghid)
		}
	}()

	frame, err := g.golixCore.MakeBindingDynamic(g.author, g.ghid, container.Ghid, g.frameHistory)
	if err != nil {
		return fmt.Errorf("gao: push: make frame: %w", err)
	}

	if _, err := g.core.Ingest(ctx, frame.Packed, false); err != nil && !persistence.IsAlreadyPresent(err) {
		return fmt.Errorf("gao: push: ingest frame: %w", err)
	}
	if _, err := g.core.Ingest(ctx, container.Packed, false); err != nil && !persistence.IsAlreadyPresent(err) {
		return fmt.Errorf("gao: push: ingest container: %w", err)
	}

	localOnly := g.masterSecret != nil
	if err := g.privateer.Commit(ctx, container.Ghid, localOnly); err != nil {
		return fmt.Errorf("gao: push: commit: %w", err)
	}

	g.frameHistory = prepend(frame.Ghid, g.frameHistory, g.legroom)
	g.targetHistory = prepend(container.Ghid, g.targetHistory, g.legroom)
	g.state = state
	succeeded = true
	return nil
}

// nextSecret implements spec.md §4.9's new_secret/ratchet_chain split: a
// master-secreted object derives every frame's secret in one hop from its
// master, salted by the current frame ghid (the dynamic ghid before the
// first frame); otherwise a brand-new object gets a fresh random secret and
// an existing chain ratchets forward from its current secret, salted by the
// frame ghid that secret's container is currently bound behind.
func (g *GAO) nextSecret(ctx context.Context) (golix.Secret, error) {
	if g.masterSecret != nil {
		if len(g.frameHistory) == 0 {
			// The frame itself doesn't exist yet (its ghid depends on the
			// container, which depends on this secret), so the first hop is
			// salted by the dynamic object's own stable ghid instead.
			return ratchet.Next(*g.masterSecret, g.ghid)
		}
		return ratchet.Next(*g.masterSecret, g.frameHistory[0])
	}
	if len(g.frameHistory) == 0 {
		return RandomSecret()
	}
	current, err := g.privateer.Get(ctx, g.targetHistory[0])
	if err != nil {
		return golix.Secret{}, fmt.Errorf("nextSecret: %w", err)
	}
	return ratchet.Next(current, g.frameHistory[0])
}

// Freeze binds the current container with a static GOBS, independently
// retaining it beyond this dynamic object's future frame advances. Only
// valid for dynamic objects.
func (g *GAO) Freeze(ctx context.Context) (ghid.Ghid, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.dynamic {
		return ghid.Nil, fmt.Errorf("%w: freeze on static object", herrors.ErrLocallyImmutable)
	}
	if len(g.targetHistory) == 0 {
		return ghid.Nil, fmt.Errorf("%w: no container to freeze yet", herrors.ErrInternal)
	}
	currentContainer := g.targetHistory[0]

	binding, err := g.golixCore.MakeBindingStatic(g.author, currentContainer)
	if err != nil {
		return ghid.Nil, fmt.Errorf("gao: freeze: %w", err)
	}
	if _, err := g.core.Ingest(ctx, binding.Packed, false); err != nil && !persistence.IsAlreadyPresent(err) {
		return ghid.Nil, fmt.Errorf("gao: freeze: %w", err)
	}
	return currentContainer, nil
}

// Hold binds this object's own ghid with a static GOBS under our
// authorship, preventing GC by other parties' retention of it specifically.
func (g *GAO) Hold(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	binding, err := g.golixCore.MakeBindingStatic(g.author, g.ghid)
	if err != nil {
		return fmt.Errorf("gao: hold: %w", err)
	}
	if _, err := g.core.Ingest(ctx, binding.Packed, false); err != nil && !persistence.IsAlreadyPresent(err) {
		return fmt.Errorf("gao: hold: %w", err)
	}
	return nil
}

// Delete revokes this object: a GDXX targeting the dynamic ghid itself if
// dynamic, or a GDXX for each GOBS we authored targeting this ghid if
// static. Idempotent: deleting an already-dead object returns nil.
func (g *GAO) Delete(ctx context.Context, binders func() []ghid.Ghid) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.isAlive {
		return nil
	}

	if g.dynamic {
		debind, err := g.golixCore.MakeDebind(g.author, g.ghid)
		if err != nil {
			return fmt.Errorf("gao: delete: %w", err)
		}
		if _, err := g.core.Ingest(ctx, debind.Packed, false); err != nil && !persistence.IsAlreadyPresent(err) {
			return fmt.Errorf("gao: delete: %w", err)
		}
	} else if binders != nil {
		for _, gobsGhid := range binders() {
			debind, err := g.golixCore.MakeDebind(g.author, gobsGhid)
			if err != nil {
				return fmt.Errorf("gao: delete: %w", err)
			}
			if _, err := g.core.Ingest(ctx, debind.Packed, false); err != nil && !persistence.IsAlreadyPresent(err) {
				return fmt.Errorf("gao: delete: %w", err)
			}
		}
	}

	g.applyDelete()
	return nil
}

func (g *GAO) applyDelete() {
	g.isAlive = false
}

func prepend(head ghid.Ghid, rest []ghid.Ghid, legroom int) []ghid.Ghid {
	out := append([]ghid.Ghid{head}, rest...)
	if len(out) > legroom {
		out = out[:legroom]
	}
	return out
}
