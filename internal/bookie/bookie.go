// Package bookie maintains the four in-memory accounting indices described
// by spec.md §3.4/§4.5. It is the purely in-memory registry half of the
// pipeline (rebuilt from Librarian.Restore on startup, never itself
// durable), modeled on arkeep's agentmanager.Manager: one RWMutex-guarded
// map per index, register-style mutation methods, snapshot-style queries.
package bookie

import (
	"sync"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
)

// Bookie holds the four accounting indices of spec.md §3.4.
type Bookie struct {
	mu sync.RWMutex

	bindingsStatic  map[ghid.Ghid]ghid.Set  // target -> set<GOBS ghid>
	staticTarget    map[ghid.Ghid]ghid.Ghid // GOBS ghid -> target ghid
	bindingsDynamic map[ghid.Ghid]ghid.Ghid // dynamic -> current frame GOBD ghid
	dynamicTarget   map[ghid.Ghid]ghid.Ghid // dynamic -> current frame's target ghid
	targetDynamics  map[ghid.Ghid]ghid.Set  // target -> set<dynamic ghid currently pointing here>
	deboundBy       map[ghid.Ghid]ghid.Set  // target -> set<GDXX ghid>
	requestsFor     map[ghid.Ghid]ghid.Set  // recipient -> set<GARQ ghid>
}

// New builds an empty Bookie. Call Apply for every Parsed recovered by
// Librarian.Restore to repopulate it after a restart.
func New() *Bookie {
	return &Bookie{
		bindingsStatic:  make(map[ghid.Ghid]ghid.Set),
		staticTarget:    make(map[ghid.Ghid]ghid.Ghid),
		bindingsDynamic: make(map[ghid.Ghid]ghid.Ghid),
		dynamicTarget:   make(map[ghid.Ghid]ghid.Ghid),
		targetDynamics:  make(map[ghid.Ghid]ghid.Set),
		deboundBy:       make(map[ghid.Ghid]ghid.Set),
		requestsFor:     make(map[ghid.Ghid]ghid.Set),
	}
}

// Apply updates the indices for one ingested primitive, per spec.md §4.5's
// per-kind rules. It returns the previous dynamic frame ghid (ghid.Nil if
// none) so PersistenceCore/Undertaker can consider it a GC candidate.
func (b *Bookie) Apply(p *golix.Parsed) (previousFrame ghid.Ghid) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch p.Kind {
	case golix.KindGOBS:
		set, ok := b.bindingsStatic[p.Target]
		if !ok {
			set = ghid.NewSet()
			b.bindingsStatic[p.Target] = set
		}
		set.Add(p.Ghid)
		b.staticTarget[p.Ghid] = p.Target

	case golix.KindGOBD:
		previousFrame = b.bindingsDynamic[p.Dynamic]
		b.bindingsDynamic[p.Dynamic] = p.Ghid

		if oldTarget, ok := b.dynamicTarget[p.Dynamic]; ok {
			if set, ok := b.targetDynamics[oldTarget]; ok {
				set.Remove(p.Dynamic)
			}
		}
		b.dynamicTarget[p.Dynamic] = p.Target
		set, ok := b.targetDynamics[p.Target]
		if !ok {
			set = ghid.NewSet()
			b.targetDynamics[p.Target] = set
		}
		set.Add(p.Dynamic)

	case golix.KindGDXX:
		set, ok := b.deboundBy[p.Target]
		if !ok {
			set = ghid.NewSet()
			b.deboundBy[p.Target] = set
		}
		set.Add(p.Ghid)

	case golix.KindGARQ:
		set, ok := b.requestsFor[p.Recipient]
		if !ok {
			set = ghid.NewSet()
			b.requestsFor[p.Recipient] = set
		}
		set.Add(p.Ghid)
	}

	return previousFrame
}

// IsDebound reports whether g has at least one live debinding.
func (b *Bookie) IsDebound(g ghid.Ghid) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.deboundBy[g]
	return ok && len(set) > 0
}

// Binders returns the ghids of every GOBS statically binding target.
func (b *Bookie) Binders(target ghid.Ghid) []ghid.Ghid {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.bindingsStatic[target]
	if !ok {
		return nil
	}
	return set.Slice()
}

// Debinders returns the ghids of every GDXX targeting g.
func (b *Bookie) Debinders(g ghid.Ghid) []ghid.Ghid {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.deboundBy[g]
	if !ok {
		return nil
	}
	return set.Slice()
}

// Requests returns the ghids of every pending GARQ addressed to recipient.
func (b *Bookie) Requests(recipient ghid.Ghid) []ghid.Ghid {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.requestsFor[recipient]
	if !ok {
		return nil
	}
	return set.Slice()
}

// StaticTarget returns the target ghid a GOBS (by its own ghid) binds, and
// whether gobsGhid is known as a static binding at all.
func (b *Bookie) StaticTarget(gobsGhid ghid.Ghid) (ghid.Ghid, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	target, ok := b.staticTarget[gobsGhid]
	return target, ok
}

// DynamicCurrentTarget returns the current frame's target ghid for a
// dynamic object, and whether dynamic is known at all.
func (b *Bookie) DynamicCurrentTarget(dynamic ghid.Ghid) (ghid.Ghid, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	target, ok := b.dynamicTarget[dynamic]
	return target, ok
}

// IsDynamicTarget reports whether target is the current frame's target for
// at least one live (not debound) dynamic object.
//
// Locking note: this inlines the debound check rather than calling
// IsDebound, since sync.RWMutex.RLock is not safe to recurse if a writer
// is queued in between the two calls.
func (b *Bookie) IsDynamicTarget(target ghid.Ghid) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.targetDynamics[target]
	if !ok {
		return false
	}
	for _, dynamic := range set.Slice() {
		debound, ok := b.deboundBy[dynamic]
		if !ok || len(debound) == 0 {
			return true
		}
	}
	return false
}

// CurrentFrame returns the current GOBD frame ghid for a dynamic object,
// and whether one exists.
func (b *Bookie) CurrentFrame(dynamic ghid.Ghid) (ghid.Ghid, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	frame, ok := b.bindingsDynamic[dynamic]
	return frame, ok
}

// HasHistoricalFrame reports whether frame is dynamic's current frame.
// Bookie keeps only the current pointer per dynamic object, not its frame
// history, so a frame that has already been superseded reports false.
func (b *Bookie) HasHistoricalFrame(dynamic, frame ghid.Ghid) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	current, ok := b.bindingsDynamic[dynamic]
	return ok && current == frame
}

// Remove clears g from every index it participates in, both as a key (it
// has just been evicted from the Librarian, so no index should still
// reference it as a target/recipient/dynamic) and as a member value (e.g.
// a debound GDXX's own ghid should stop appearing in Debinders once the
// GDXX itself is GC'd).
func (b *Bookie) Remove(g ghid.Ghid) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.bindingsStatic, g)
	delete(b.staticTarget, g)
	delete(b.deboundBy, g)
	delete(b.requestsFor, g)
	delete(b.targetDynamics, g)

	for _, set := range b.bindingsStatic {
		set.Remove(g)
	}
	for _, set := range b.deboundBy {
		set.Remove(g)
	}
	for _, set := range b.requestsFor {
		set.Remove(g)
	}
	for _, set := range b.targetDynamics {
		set.Remove(g)
	}
}
