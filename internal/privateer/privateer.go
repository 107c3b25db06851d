// Package privateer is the secret store described by spec.md §3.7/§4.9: a
// staged map, a persistent map, and a local-only map of Secrets keyed by
// container ghid, with stage/commit/abandon lifecycle rules enforcing that
// two differing secrets can never be staged (or persisted) for the same
// ghid.
//
// The conflict-on-mismatch discipline mirrors arkeep's ErrConflict pattern
// (internal/repositories/errors.go); the persistent map's durability is
// delegated to a Store implementation backed by store.EncryptedSecret, the
// same AES-256-GCM-at-rest column type arkeep's EncryptedString models.
package privateer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
)

// Store persists committed secrets durably. The non-local-only persistent
// map is backed by an implementation writing through store.EncryptedSecret
// rows; the local-only store (master-secreted bootstrap chains, spec.md
// §4.9) uses the same interface over a separate table/namespace so the two
// can never be confused.
type Store interface {
	Put(ctx context.Context, g ghid.Ghid, secret golix.Secret) error
	Get(ctx context.Context, g ghid.Ghid) (golix.Secret, bool, error)
	Delete(ctx context.Context, g ghid.Ghid) error
}

// Privateer implements the stage/commit/abandon/get lifecycle of spec.md
// §3.7 over one staged in-memory map and two durable Stores (persistent and
// local-only).
type Privateer struct {
	mu       sync.Mutex
	staged   map[ghid.Ghid]golix.Secret
	stagedAt map[ghid.Ghid]time.Time

	persistent Store
	localOnly  Store
}

// New builds a Privateer over the given persistent and local-only stores.
func New(persistent, localOnly Store) *Privateer {
	return &Privateer{
		staged:     make(map[ghid.Ghid]golix.Secret),
		stagedAt:   make(map[ghid.Ghid]time.Time),
		persistent: persistent,
		localOnly:  localOnly,
	}
}

// Stage adds secret to the staged map under containerGhid. If a secret is
// already staged or already persistent for this ghid, it must byte-equal
// the new one; otherwise Stage fails with ErrSecretConflict.
func (p *Privateer) Stage(ctx context.Context, containerGhid ghid.Ghid, secret golix.Secret) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.staged[containerGhid]; ok {
		if !existing.Equal(secret) {
			return fmt.Errorf("%w: already staged for %s", herrors.ErrSecretConflict, containerGhid)
		}
		return nil
	}

	if existing, ok, err := p.persistent.Get(ctx, containerGhid); err != nil {
		return fmt.Errorf("privateer: check persistent: %w", err)
	} else if ok {
		if !existing.Equal(secret) {
			return fmt.Errorf("%w: already persistent for %s", herrors.ErrSecretConflict, containerGhid)
		}
		return nil
	}

	p.staged[containerGhid] = secret
	p.stagedAt[containerGhid] = time.Now()
	return nil
}

// Commit moves containerGhid's staged secret into the persistent store, or
// into the local-only store if localOnly is set (spec.md §4.9's bootstrap
// chain rule: master-secreted chains never upload to an upstream remote).
// Commit is a no-op if nothing is staged for containerGhid.
func (p *Privateer) Commit(ctx context.Context, containerGhid ghid.Ghid, localOnly bool) error {
	p.mu.Lock()
	secret, ok := p.staged[containerGhid]
	if ok {
		delete(p.staged, containerGhid)
		delete(p.stagedAt, containerGhid)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	store := p.persistent
	if localOnly {
		store = p.localOnly
	}
	if err := store.Put(ctx, containerGhid, secret); err != nil {
		return fmt.Errorf("privateer: commit: %w", err)
	}
	return nil
}

// Abandon drops containerGhid's staged entry. Tolerated if absent, per
// spec.md §3.7.
func (p *Privateer) Abandon(containerGhid ghid.Ghid) {
	p.mu.Lock()
	delete(p.staged, containerGhid)
	delete(p.stagedAt, containerGhid)
	p.mu.Unlock()
}

// SweepExpiredStaged abandons every staged secret whose Stage call is older
// than ttl, returning how many were dropped. Catches a stage whose matching
// commit never arrived — a crash between Stage and the GEOC ingest that
// would have committed it — so the staged map doesn't grow unbounded.
func (p *Privateer) SweepExpiredStaged(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	p.mu.Lock()
	defer p.mu.Unlock()

	var dropped int
	for g, at := range p.stagedAt {
		if at.Before(cutoff) {
			delete(p.staged, g)
			delete(p.stagedAt, g)
			dropped++
		}
	}
	return dropped
}

// Get looks up containerGhid first in staged, then persistent, then
// local-only, returning ErrSecretMissing if none holds it.
func (p *Privateer) Get(ctx context.Context, containerGhid ghid.Ghid) (golix.Secret, error) {
	p.mu.Lock()
	staged, ok := p.staged[containerGhid]
	p.mu.Unlock()
	if ok {
		return staged, nil
	}

	if secret, ok, err := p.persistent.Get(ctx, containerGhid); err != nil {
		return golix.Secret{}, fmt.Errorf("privateer: get persistent: %w", err)
	} else if ok {
		return secret, nil
	}

	if secret, ok, err := p.localOnly.Get(ctx, containerGhid); err != nil {
		return golix.Secret{}, fmt.Errorf("privateer: get local-only: %w", err)
	} else if ok {
		return secret, nil
	}

	return golix.Secret{}, fmt.Errorf("%w: no secret staged or committed for %s", herrors.ErrSecretMissing, containerGhid)
}
