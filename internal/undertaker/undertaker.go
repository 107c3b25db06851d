// Package undertaker implements spec.md §4.6: given a candidate ghid,
// determine whether it is now orphaned and, if so, evict it from the
// Librarian, cascading to whatever target that eviction itself orphans.
package undertaker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/bookie"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

// Librarian is the narrow surface Undertaker needs: lookup, removal, and
// presence checks. Satisfied by *librarian.Librarian.
type Librarian interface {
	Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error)
	Abandon(ctx context.Context, g ghid.Ghid) error
	Has(ctx context.Context, g ghid.Ghid) bool
}

// ContainerLister is the additional surface SweepAll needs: enumerating
// every stored GEOC so the background sweep can re-check each one's
// liveness independently of the synchronous Triage path. Satisfied by
// *librarian.Librarian.
type ContainerLister interface {
	ContainerGhids(ctx context.Context) ([]ghid.Ghid, error)
}

// Undertaker evicts orphaned primitives from the Librarian.
type Undertaker struct {
	librarian Librarian
	bookie    *bookie.Bookie
}

// New builds an Undertaker over the given Librarian and Bookie.
func New(lib Librarian, book *bookie.Bookie) *Undertaker {
	return &Undertaker{librarian: lib, bookie: book}
}

// Triage runs after a primitive p has been ingested (stored in the
// Librarian and applied to Bookie). It inspects whatever p's ingest may
// have orphaned — p's own target (if p is a binding or debinding) and any
// previousFrame superseded by a new GOBD — and cascades eviction.
func (u *Undertaker) Triage(ctx context.Context, p *golix.Parsed, previousFrame ghid.Ghid) error {
	switch p.Kind {
	case golix.KindGOBS, golix.KindGOBD:
		// A fresh binding cannot itself be orphaned by its own ingest; only
		// a previously-superseded frame can be.
		if !previousFrame.IsNil() {
			if err := u.triageFrame(ctx, previousFrame); err != nil {
				return err
			}
		}

	case golix.KindGDXX:
		// The binding or request p just debound may now be orphaned; and if
		// that binding was itself a GOBS/GOBD, evicting it may in turn
		// orphan the GEOC it targets (spec.md §4.6: "removing a GOBS may
		// orphan its target GEOC"). Summarize before sweeping since sweep
		// removes the record the cascade target is read from.
		target, err := u.librarian.Summarize(ctx, p.Target)
		if err != nil && !errors.Is(err, herrors.ErrNotFound) {
			return fmt.Errorf("undertaker: triage: %w", err)
		}
		if err := u.sweep(ctx, p.Target); err != nil {
			return err
		}
		if target != nil && (target.Kind == golix.KindGOBS || target.Kind == golix.KindGOBD) {
			if err := u.sweep(ctx, target.Target); err != nil {
				return err
			}
		}
	}
	return nil
}

// triageFrame handles a superseded GOBD frame: the frame itself is always
// gone once superseded (it's no longer the current frame and history
// doesn't need it retained beyond legroom, which is a GAO-level concern,
// not a Librarian one), and its target becomes a GC candidate.
func (u *Undertaker) triageFrame(ctx context.Context, frameGhid ghid.Ghid) error {
	frame, err := u.librarian.Summarize(ctx, frameGhid)
	if err != nil {
		if errors.Is(err, herrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("undertaker: triageFrame: %w", err)
	}
	return u.sweep(ctx, frame.Target)
}

// sweep evicts target if it is now orphaned: no live static binding and no
// live dynamic current-frame references it. It is idempotent and silent if
// target is already absent.
func (u *Undertaker) sweep(ctx context.Context, target ghid.Ghid) error {
	if target.IsNil() || !u.librarian.Has(ctx, target) {
		return nil
	}

	if u.isReferenced(ctx, target) {
		return nil
	}

	if err := u.librarian.Abandon(ctx, target); err != nil {
		return fmt.Errorf("undertaker: sweep: %w", err)
	}
	u.bookie.Remove(target)
	return nil
}

// SweepAll re-walks every GEOC container known to lister and evicts any
// that is no longer referenced, catching an orphan left behind by a crash
// mid-ingest (defense in depth; the synchronous Triage path is expected to
// maintain this invariant transactionally). Returns the number evicted.
func (u *Undertaker) SweepAll(ctx context.Context, lister ContainerLister) (int, error) {
	ghids, err := lister.ContainerGhids(ctx)
	if err != nil {
		return 0, fmt.Errorf("undertaker: sweep all: %w", err)
	}

	var evicted int
	for _, g := range ghids {
		referenced := u.isReferenced(ctx, g)
		if referenced {
			continue
		}
		if err := u.librarian.Abandon(ctx, g); err != nil {
			return evicted, fmt.Errorf("undertaker: sweep all: abandon %s: %w", g, err)
		}
		u.bookie.Remove(g)
		evicted++
	}
	return evicted, nil
}

// isReferenced reports whether target has any live reference: a static
// binding not itself debound, or serving as the current frame's target for
// some dynamic object.
func (u *Undertaker) isReferenced(ctx context.Context, target ghid.Ghid) bool {
	for _, binderGhid := range u.bookie.Binders(target) {
		if !u.bookie.IsDebound(binderGhid) {
			return true
		}
	}
	return u.bookie.IsDynamicTarget(target)
}
