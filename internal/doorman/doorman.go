// Package doorman implements spec.md §4.2: parse the envelope, identify
// the primitive kind, then verify its signature against the author's GIDC
// public key. GIDCs verify against their own embedded key; every other
// kind requires its author's GIDC already present in the Librarian.
package doorman

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

// AuthorResolver looks up a previously-ingested GIDC's signing key by
// ghid. Implemented by Librarian; kept as a narrow interface so Doorman
// doesn't need the whole Librarian surface.
type AuthorResolver interface {
	Summarize(ctx context.Context, g ghid.Ghid) (*golix.Parsed, error)
}

// Doorman verifies primitives against their author's signing key.
type Doorman struct {
	resolver AuthorResolver
}

// New builds a Doorman over the given AuthorResolver.
func New(resolver AuthorResolver) *Doorman {
	return &Doorman{resolver: resolver}
}

// Inspect parses packed and verifies its signature, returning the lite
// Parsed summary. Fails with ErrMalformedObject (from golix.Unpack) or
// ErrInvalidSignature/ErrUnknownParty.
func (d *Doorman) Inspect(ctx context.Context, packed []byte) (*golix.Parsed, error) {
	p, err := golix.Unpack(packed)
	if err != nil {
		return nil, err
	}

	if p.Kind == golix.KindGIDC {
		if err := golix.Verify(p, ed25519.PublicKey(p.SigningPub[:])); err != nil {
			return nil, err
		}
		return p, nil
	}

	authorGidc, err := d.resolver.Summarize(ctx, p.Author)
	if err != nil {
		return nil, fmt.Errorf("%w: author %s: %v", herrors.ErrUnknownParty, p.Author, err)
	}
	if authorGidc.Kind != golix.KindGIDC {
		return nil, fmt.Errorf("%w: author %s is not a GIDC", herrors.ErrUnknownParty, p.Author)
	}

	if err := golix.Verify(p, ed25519.PublicKey(authorGidc.SigningPub[:])); err != nil {
		return nil, err
	}
	return p, nil
}
