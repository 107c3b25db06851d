// Package persistence implements spec.md §4.8's PersistenceCore: the
// single ingest pipeline every primitive — whether published locally or
// received from an upstream remote — passes through.
//
// Signature verification (Doorman) is the one CPU-bound step offloaded to
// a bounded worker pool, per spec.md §5's concurrency model, using a
// buffered channel as the semaphore the same way a fixed worker-pool size
// is threaded through arkeep's scheduler configuration.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/hypergolix/hypergolix/internal/bookie"
	"github.com/hypergolix/hypergolix/internal/doorman"
	"github.com/hypergolix/hypergolix/internal/enforcer"
	"github.com/hypergolix/hypergolix/internal/ghid"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/herrors"
	"github.com/hypergolix/hypergolix/internal/lawyer"
	"github.com/hypergolix/hypergolix/internal/postman"
	"github.com/hypergolix/hypergolix/internal/undertaker"
)

// Librarian is the narrow surface PersistenceCore needs.
type Librarian interface {
	Has(ctx context.Context, g ghid.Ghid) bool
	Store(ctx context.Context, lite *golix.Parsed, packed []byte) error
}

// Salmonator pushes a newly-locally-ingested primitive upstream. Optional:
// a nil Salmonator simply skips the push step (single-node deployments
// never configure one).
type Salmonator interface {
	PushUpstream(ctx context.Context, packed []byte) error
}

// Metrics observes the outcome of every Ingest call. Optional: a nil
// Metrics simply skips instrumentation.
type Metrics interface {
	ObserveIngest(kind golix.Kind, err error)
}

// Core orchestrates Doorman -> Enforcer -> Lawyer -> Bookie -> Librarian ->
// Undertaker -> Postman for every ingest, per spec.md §4.8.
type Core struct {
	doorman    *doorman.Doorman
	enforcer   *enforcer.Enforcer
	lawyer     *lawyer.Lawyer
	bookie     *bookie.Bookie
	librarian  Librarian
	undertaker *undertaker.Undertaker
	postman    *postman.Postman
	salmonator Salmonator
	metrics    Metrics

	verifySem chan struct{}
}

// Config configures Core's dependencies and worker-pool width.
type Config struct {
	Doorman    *doorman.Doorman
	Enforcer   *enforcer.Enforcer
	Lawyer     *lawyer.Lawyer
	Bookie     *bookie.Bookie
	Librarian  Librarian
	Undertaker *undertaker.Undertaker
	Postman    *postman.Postman
	Salmonator Salmonator // optional
	Metrics    Metrics    // optional

	// VerifyWorkers bounds concurrent signature-verification work. Defaults
	// to 8 if left zero.
	VerifyWorkers int
}

// New builds a Core from cfg.
func New(cfg Config) *Core {
	workers := cfg.VerifyWorkers
	if workers <= 0 {
		workers = 8
	}
	return &Core{
		doorman:    cfg.Doorman,
		enforcer:   cfg.Enforcer,
		lawyer:     cfg.Lawyer,
		bookie:     cfg.Bookie,
		librarian:  cfg.Librarian,
		undertaker: cfg.Undertaker,
		postman:    cfg.Postman,
		salmonator: cfg.Salmonator,
		metrics:    cfg.Metrics,
		verifySem:  make(chan struct{}, workers),
	}
}

// Ingest runs packed through the full pipeline. fromUpstream suppresses
// the final Salmonator.PushUpstream step, since a primitive received from
// an upstream remote should never be echoed straight back to it.
//
// All steps are synchronous with respect to the call. A failure up to and
// including Librarian.Store leaves the Librarian unchanged; a Triage or
// PushUpstream failure is returned after the primitive has been stored and
// applied to Bookie, and neither is rolled back.
func (c *Core) Ingest(ctx context.Context, packed []byte, fromUpstream bool) (lite *golix.Parsed, err error) {
	if c.metrics != nil {
		defer func() {
			var kind golix.Kind
			if lite != nil {
				kind = lite.Kind
			}
			c.metrics.ObserveIngest(kind, err)
		}()
	}

	lite, err = c.inspect(ctx, packed)
	if err != nil {
		return nil, err
	}

	if err := c.enforcer.Check(lite); err != nil {
		return nil, err
	}

	if err := c.lawyer.Check(ctx, lite); err != nil {
		return nil, err
	}

	if c.librarian.Has(ctx, lite.Ghid) {
		return lite, herrors.ErrAlreadyPresent
	}

	previousFrame := c.bookie.Apply(lite)

	if err := c.librarian.Store(ctx, lite, packed); err != nil {
		return nil, fmt.Errorf("persistence: ingest: %w", err)
	}

	if err := c.undertaker.Triage(ctx, lite, previousFrame); err != nil {
		return nil, fmt.Errorf("persistence: ingest: triage: %w", err)
	}

	c.fanOut(lite)

	if !fromUpstream && c.salmonator != nil {
		if err := c.salmonator.PushUpstream(ctx, packed); err != nil {
			return nil, fmt.Errorf("persistence: ingest: push upstream: %w", err)
		}
	}

	return lite, nil
}

// inspect runs Doorman.Inspect under the bounded verification semaphore.
func (c *Core) inspect(ctx context.Context, packed []byte) (*golix.Parsed, error) {
	select {
	case c.verifySem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.verifySem }()

	return c.doorman.Inspect(ctx, packed)
}

func (c *Core) fanOut(lite *golix.Parsed) {
	switch lite.Kind {
	case golix.KindGOBD:
		c.postman.NotifyGOBD(lite)
	case golix.KindGDXX:
		c.postman.NotifyGDXX(lite)
	case golix.KindGARQ:
		c.postman.NotifyGARQ(lite)
	}
}

// IsAlreadyPresent reports whether err is the idempotent-ingest sentinel
// Ingest returns for a ghid already stored — a control-flow signal, not a
// failure.
func IsAlreadyPresent(err error) bool {
	return errors.Is(err, herrors.ErrAlreadyPresent)
}
