package gao

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
	"github.com/hypergolix/hypergolix/internal/persistence"
	"github.com/hypergolix/hypergolix/internal/ratchet"
)

// Pull applies an update notified by Postman: a new GOBD frame for this
// object's dynamic ghid, or a GDXX that has revoked it.
func (g *GAO) Pull(ctx context.Context, notificationGhid ghid.Ghid) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pullLocked(ctx, notificationGhid)
}

// pullLocked is Pull's body, callable while g.mu is already held (Push's
// failure path re-pulls to recover the last-known-good state).
func (g *GAO) pullLocked(ctx context.Context, notificationGhid ghid.Ghid) error {
	p, err := g.librarian.Summarize(ctx, notificationGhid)
	if err != nil {
		return fmt.Errorf("gao: pull: %w", err)
	}

	if p.Kind == golix.KindGDXX && p.Target == g.ghid {
		g.applyDelete()
		return nil
	}

	if !g.dynamic {
		return nil
	}
	if p.Kind != golix.KindGOBD || p.Dynamic != g.ghid {
		return nil
	}
	if len(g.frameHistory) > 0 && p.Ghid == g.frameHistory[0] {
		return nil // already applied; own echo or duplicate notify
	}

	secret, err := g.healSecret(ctx, p)
	if err != nil {
		return fmt.Errorf("gao: pull: %w", err)
	}

	plaintext, err := g.fetchAndOpen(ctx, p.Target, secret)
	if err != nil {
		g.privateer.Abandon(p.Target)
		return fmt.Errorf("gao: pull: %w", err)
	}

	state := g.newState()
	if err := g.codec.Unmarshal(plaintext, state); err != nil {
		g.privateer.Abandon(p.Target)
		return fmt.Errorf("gao: pull: unmarshal: %w", err)
	}

	if err := g.privateer.Stage(ctx, p.Target, secret); err != nil {
		return fmt.Errorf("gao: pull: stage: %w", err)
	}
	if err := g.privateer.Commit(ctx, p.Target, g.masterSecret != nil); err != nil {
		return fmt.Errorf("gao: pull: commit: %w", err)
	}

	g.advanceHistory(p)
	g.state = state
	return nil
}

func (g *GAO) fetchAndOpen(ctx context.Context, containerGhid ghid.Ghid, secret golix.Secret) ([]byte, error) {
	packed, err := g.librarian.Retrieve(ctx, containerGhid)
	if err != nil {
		if g.remote == nil || !errors.Is(err, herrors.ErrNotFound) {
			return nil, fmt.Errorf("fetch container: %w", err)
		}
		// Local Librarian doesn't have it: fall back to the upstream
		// remote (spec.md §5's Timeouts subsection) and ingest whatever
		// comes back so later pulls for the same container hit locally.
		packed, err = g.remote.Get(ctx, containerGhid)
		if err != nil {
			return nil, fmt.Errorf("fetch container: remote fetch: %w", err)
		}
		if _, err := g.core.Ingest(ctx, packed, true); err != nil && !persistence.IsAlreadyPresent(err) {
			return nil, fmt.Errorf("fetch container: ingest fetched container: %w", err)
		}
	}
	container, err := golix.Unpack(packed)
	if err != nil {
		return nil, fmt.Errorf("unpack container: %w", err)
	}
	plaintext, err := golix.OpenContainer(container, secret)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	return plaintext, nil
}

// healSecret derives the secret for newFrame's container, per spec.md
// §4.9's Healing paragraph.
//
// A master-secreted chain (bootstrap/account objects) needs no multi-hop
// walk: every frame's secret is a single ratchet hop directly from the
// immutable master, salted by the frame immediately preceding it, since
// the whole chain is recoverable purely from the master secret and the
// sequence of frame ghids.
//
// A regular chain has no stable master to re-derive from, so healing must
// walk forward hop by hop from the last secret we actually have. We locate
// our last-known current frame inside newFrame.History (newest first),
// then ratchet once per frame between there and newFrame itself, each hop
// salted by the frame ghid immediately preceding the frame it produces the
// secret for.
func (g *GAO) healSecret(ctx context.Context, newFrame *golix.Parsed) (golix.Secret, error) {
	if g.masterSecret != nil {
		if len(newFrame.History) == 0 {
			// Mirrors nextSecret's push-side derivation: the first frame's
			// ghid isn't known until after its secret encrypts the
			// container, so the first hop is salted by the dynamic
			// object's own stable ghid instead.
			return ratchet.Next(*g.masterSecret, g.ghid)
		}
		return ratchet.Next(*g.masterSecret, newFrame.History[0])
	}

	if len(g.frameHistory) == 0 {
		// Nothing to ratchet through yet: either this GAO is rehydrating its
		// own chain after a restart (the container's secret is already
		// committed in Privateer) or this is the first frame we've been
		// given access to via a prior out-of-band secret share. Either way
		// the secret must already be directly resolvable for this exact
		// container.
		secret, err := g.privateer.Get(ctx, newFrame.Target)
		if err != nil {
			return golix.Secret{}, fmt.Errorf("%w: no known secret to resolve first frame from", herrors.ErrRatchetError)
		}
		return secret, nil
	}

	lastKnown := g.frameHistory[0]
	offset := -1
	for i, h := range newFrame.History {
		if h == lastKnown {
			offset = i
			break
		}
	}
	if offset < 0 {
		return golix.Secret{}, fmt.Errorf("%w: last known frame not found in new history", herrors.ErrRatchetError)
	}

	current, err := g.privateer.Get(ctx, g.targetHistory[0])
	if err != nil {
		return golix.Secret{}, fmt.Errorf("heal: %w", err)
	}

	// Salt chain, oldest missed frame first: newHistory[offset], ...,
	// newHistory[0]. This mirrors the push side's derivation (nextSecret),
	// which salts each hop by the *previous* frame's ghid, starting from
	// lastKnown (newHistory[offset]) and ending at newHistory[0].
	salts := make([]ghid.Ghid, 0, offset+1)
	for i := offset; i >= 0; i-- {
		salts = append(salts, newFrame.History[i])
	}

	return ratchet.Heal(current, salts, g.legroom)
}

// advanceHistory implements spec.md §4.11's _advance_history: the frames
// newFrame.History lists as newer than our last-known frame are inserted
// ahead of it (newest first, with Nil targets since their containers are
// unknown), then the new frame itself is prepended, keeping at most legroom
// entries. With no last-known frame, or one absent from newFrame.History,
// only the new frame is added.
func (g *GAO) advanceHistory(newFrame *golix.Parsed) {
	offset := -1
	if len(g.frameHistory) > 0 {
		lastKnown := g.frameHistory[0]
		for i, h := range newFrame.History {
			if h == lastKnown {
				offset = i
				break
			}
		}
	}

	if offset > 0 {
		backfillFrames := make([]ghid.Ghid, offset)
		backfillTargets := make([]ghid.Ghid, offset)
		for i := 0; i < offset; i++ {
			backfillFrames[i] = newFrame.History[i]
			backfillTargets[i] = ghid.Nil // target unknown for backfilled frames
		}
		g.frameHistory = append(backfillFrames, g.frameHistory...)
		g.targetHistory = append(backfillTargets, g.targetHistory...)
	}

	g.frameHistory = prepend(newFrame.Ghid, g.frameHistory, g.legroom)
	g.targetHistory = prepend(newFrame.Target, g.targetHistory, g.legroom)
}
