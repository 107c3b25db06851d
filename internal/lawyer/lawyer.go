// Package lawyer implements spec.md §4.4: cross-reference validation
// against the Librarian and Bookie. Unlike Doorman's and Enforcer's
// stateless checks, every rule here depends on what else has already been
// ingested.
package lawyer

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/bookie"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

// Librarian is the narrow read surface Lawyer needs: summary lookup and
// presence checks. Satisfied by *librarian.Librarian.
type Librarian interface {
	Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error)
	Has(ctx context.Context, g ghid.Ghid) bool
}

// Lawyer validates a primitive's cross-references.
type Lawyer struct {
	librarian Librarian
	bookie    *bookie.Bookie
}

// New builds a Lawyer over the given Librarian and Bookie.
func New(lib Librarian, book *bookie.Bookie) *Lawyer {
	return &Lawyer{librarian: lib, bookie: book}
}

// Check validates p's cross-references, per spec.md §4.4's per-kind rules.
func (l *Lawyer) Check(ctx context.Context, p *golix.Parsed) error {
	switch p.Kind {
	case golix.KindGIDC:
		// Self-contained; nothing to cross-check.
		return nil

	case golix.KindGEOC, golix.KindGOBS:
		return l.requireAuthorGIDC(ctx, p.Author)

	case golix.KindGOBD:
		if err := l.requireAuthorGIDC(ctx, p.Author); err != nil {
			return err
		}
		return l.checkGOBDHistory(ctx, p)

	case golix.KindGDXX:
		return l.checkGDXX(ctx, p)

	case golix.KindGARQ:
		recipient, err := l.librarian.Summarize(ctx, p.Recipient)
		if err != nil {
			return fmt.Errorf("%w: recipient %s: %v", herrors.ErrUnknownParty, p.Recipient, err)
		}
		if recipient.Kind != golix.KindGIDC {
			return fmt.Errorf("%w: recipient %s is not a GIDC", herrors.ErrUnknownParty, p.Recipient)
		}
		return nil

	default:
		return fmt.Errorf("%w: unknown kind %d", herrors.ErrMalformedObject, p.Kind)
	}
}

func (l *Lawyer) requireAuthorGIDC(ctx context.Context, author ghid.Ghid) error {
	authorGidc, err := l.librarian.Summarize(ctx, author)
	if err != nil {
		return fmt.Errorf("%w: author %s: %v", herrors.ErrUnknownParty, author, err)
	}
	if authorGidc.Kind != golix.KindGIDC {
		return fmt.Errorf("%w: author %s is not a GIDC", herrors.ErrUnknownParty, author)
	}
	return nil
}

// checkGOBDHistory enforces spec.md §4.4's dynamic-binding frame-ordering
// rule: if history is nonempty, its first (newest prior) entry must be
// either the dynamic's live current frame, or a historical frame already
// superseded — true reorder tolerance. A history[0] that matches neither
// is a replay and is rejected.
func (l *Lawyer) checkGOBDHistory(ctx context.Context, p *golix.Parsed) error {
	if len(p.History) == 0 {
		return nil
	}
	current, hasCurrent := l.bookie.CurrentFrame(p.Dynamic)
	if !hasCurrent {
		// First frame ever seen for this dynamic_ghid with a nonempty
		// history is inherently a replay: nothing precedes it yet.
		return fmt.Errorf("%w: dynamic %s has no current frame to extend", herrors.ErrFrameReplay, p.Dynamic)
	}
	if p.History[0] == current {
		if l.bookie.IsDebound(p.Dynamic) {
			return fmt.Errorf("%w: dynamic %s is debound", herrors.ErrAlreadyDebound, p.Dynamic)
		}
		return nil
	}
	// Reorder tolerance: H[0] names a frame that was itself once current
	// but has since been superseded. Bookie only tracks the live pointer,
	// so a frame other than the live one is accepted, but only if it is a
	// known frame at all — a forged history[0] that names neither the
	// current frame nor any frame the Librarian has ever seen is a replay.
	if !l.librarian.Has(ctx, p.History[0]) {
		return fmt.Errorf("%w: dynamic %s history[0] %s is not a known frame", herrors.ErrFrameReplay, p.Dynamic, p.History[0])
	}
	return nil
}

// checkGDXX enforces spec.md §3.5/§4.4's debinding rules: the target must
// exist, and the debinding's author must match the target's author — with
// the resolved Open Question that a GDXX targeting another GDXX is
// accepted only if the outer GDXX's author matches the inner one's author
// (not the inner GDXX's target's author).
func (l *Lawyer) checkGDXX(ctx context.Context, p *golix.Parsed) error {
	target, err := l.librarian.Summarize(ctx, p.Target)
	if err != nil {
		if errors.Is(err, herrors.ErrNotFound) {
			return fmt.Errorf("%w: target %s", herrors.ErrUnknownParty, p.Target)
		}
		return fmt.Errorf("lawyer: checkGDXX: %w", err)
	}

	if target.Kind == golix.KindGDXX {
		if target.Author != p.Author {
			return fmt.Errorf("%w: GDXX-of-GDXX author mismatch", herrors.ErrInconsistentAuthor)
		}
		return nil
	}

	if target.Author != p.Author {
		return fmt.Errorf("%w: debinding author does not match target author", herrors.ErrInconsistentAuthor)
	}
	return nil
}
