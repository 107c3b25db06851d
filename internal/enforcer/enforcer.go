// Package enforcer implements spec.md §4.3: shape validation with no
// cross-reference lookups. Every check here is a pure function of the
// Parsed summary itself.
package enforcer

import (
	"fmt"

	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

// Enforcer validates a primitive's shape.
type Enforcer struct {
	// MaxHistory bounds GOBD.history length. Defaults to golix.MaxHistory
	// if left zero.
	MaxHistory int
}

// New builds an Enforcer with the default history bound.
func New() *Enforcer {
	return &Enforcer{MaxHistory: golix.MaxHistory}
}

// Check validates p's shape, returning ErrMalformedObject on violation.
// golix.Unpack already enforces fixed-size ghid fields and the history
// length bound at decode time, so Check's job is the remaining shape rules
// spec.md §4.3 lists that Unpack cannot see: no-nil-field checks per kind.
func (e *Enforcer) Check(p *golix.Parsed) error {
	maxHistory := e.MaxHistory
	if maxHistory <= 0 {
		maxHistory = golix.MaxHistory
	}

	switch p.Kind {
	case golix.KindGIDC:
		if p.SigningPub == [32]byte{} || p.AgreingPub == [32]byte{} {
			return fmt.Errorf("%w: GIDC missing a public key", herrors.ErrMalformedObject)
		}

	case golix.KindGEOC:
		if p.Author.IsNil() {
			return fmt.Errorf("%w: GEOC.author must be a ghid", herrors.ErrMalformedObject)
		}
		if len(p.Ciphertext) == 0 {
			return fmt.Errorf("%w: GEOC.ciphertext must be nonempty", herrors.ErrMalformedObject)
		}

	case golix.KindGOBS:
		if p.Author.IsNil() {
			return fmt.Errorf("%w: GOBS.author must be a ghid", herrors.ErrMalformedObject)
		}
		if p.Target.IsNil() {
			return fmt.Errorf("%w: GOBS.target must be a ghid", herrors.ErrMalformedObject)
		}

	case golix.KindGOBD:
		if p.Author.IsNil() {
			return fmt.Errorf("%w: GOBD.author must be a ghid", herrors.ErrMalformedObject)
		}
		if p.Dynamic.IsNil() {
			return fmt.Errorf("%w: GOBD.dynamic_ghid must be a ghid", herrors.ErrMalformedObject)
		}
		if p.Target.IsNil() {
			return fmt.Errorf("%w: GOBD.target must be a ghid", herrors.ErrMalformedObject)
		}
		if len(p.History) > maxHistory {
			return fmt.Errorf("%w: GOBD.history length %d exceeds max %d", herrors.ErrMalformedObject, len(p.History), maxHistory)
		}
		for _, h := range p.History {
			if h.IsNil() {
				return fmt.Errorf("%w: GOBD.history entry must be a ghid", herrors.ErrMalformedObject)
			}
		}

	case golix.KindGDXX:
		if p.Author.IsNil() {
			return fmt.Errorf("%w: GDXX.author must be a ghid", herrors.ErrMalformedObject)
		}
		if p.Target.IsNil() {
			return fmt.Errorf("%w: GDXX.target must be a ghid", herrors.ErrMalformedObject)
		}

	case golix.KindGARQ:
		if p.Author.IsNil() {
			return fmt.Errorf("%w: GARQ.author must be a ghid", herrors.ErrMalformedObject)
		}
		if p.Recipient.IsNil() {
			return fmt.Errorf("%w: GARQ.recipient must be a ghid", herrors.ErrMalformedObject)
		}

	default:
		return fmt.Errorf("%w: unknown kind %d", herrors.ErrMalformedObject, p.Kind)
	}

	return nil
}
