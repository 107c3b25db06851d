// Package proxier implements spec.md §4.10: resolve a dynamic or static
// identity ghid down to the container ghid whose secret a caller actually
// needs.
package proxier

import (
	"github.com/hypergolix/hypergolix/internal/bookie"
	"github.com/hypergolix/hypergolix/internal/ghid"
)

// Proxier resolves identity ghids to container ghids.
type Proxier struct {
	bookie *bookie.Bookie
}

// New builds a Proxier over the given Bookie.
func New(book *bookie.Bookie) *Proxier {
	return &Proxier{bookie: book}
}

// Resolve returns the container ghid g ultimately refers to: g's current
// frame target if g is a known dynamic ghid, else g's target if g is a
// known static binding ghid, else g unchanged (it is likely a container
// already).
func (p *Proxier) Resolve(g ghid.Ghid) ghid.Ghid {
	if target, ok := p.bookie.DynamicCurrentTarget(g); ok {
		return target
	}
	if target, ok := p.bookie.StaticTarget(g); ok {
		return target
	}
	return g
}
