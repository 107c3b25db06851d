// Package maintenance runs the background defense-in-depth sweeps
// described by spec.md §4.6(a): a periodic re-walk of every stored GEOC
// checking Bookie liveness (catching an orphan a crash mid-ingest left
// un-GC'd), and a periodic Privateer stage-sweep abandoning staged secrets
// whose matching commit never arrived.
//
// Adapted from arkeep's internal/scheduler, which wraps the same gocron
// scheduler to run one job per backup policy in singleton mode. This
// package has a fixed, small job set (one GC sweep, one stage sweep)
// rather than a dynamic per-policy set, so it carries over the wrapper
// shape and the singleton-mode/tag discipline without the policy
// repository machinery.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hypergolix/hypergolix/internal/undertaker"
)

const (
	gcSweepTag    = "gc-sweep"
	stageSweepTag = "stage-sweep"
)

// Config controls the two sweep intervals and the stage-sweep TTL. Zero
// values fall back to the defaults below.
type Config struct {
	// GCSweepInterval is how often SweepAll re-walks every stored GEOC.
	GCSweepInterval time.Duration

	// StageSweepInterval is how often expired staged secrets are dropped.
	StageSweepInterval time.Duration

	// StageTTL is how long a secret may sit staged with no commit before
	// SweepExpiredStaged abandons it.
	StageTTL time.Duration

	Logger *zap.Logger
}

const (
	defaultGCSweepInterval    = 10 * time.Minute
	defaultStageSweepInterval = time.Minute
	defaultStageTTL           = 5 * time.Minute
)

// GCSweeper is the narrow surface maintenance needs to run a GC sweep.
// Build one with NewGCSweeper.
type GCSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// gcSweeper adapts Undertaker.SweepAll (which needs a ContainerLister
// argument) to the no-argument GCSweeper shape a gocron task closure wants.
type gcSweeper struct {
	undertaker *undertaker.Undertaker
	lister     undertaker.ContainerLister
}

// NewGCSweeper builds a GCSweeper over u and lister (typically the same
// *librarian.Librarian passed to PersistenceCore).
func NewGCSweeper(u *undertaker.Undertaker, lister undertaker.ContainerLister) GCSweeper {
	return gcSweeper{undertaker: u, lister: lister}
}

func (s gcSweeper) Sweep(ctx context.Context) (int, error) {
	return s.undertaker.SweepAll(ctx, s.lister)
}

// StageSweeper is the narrow surface maintenance needs from Privateer.
// Satisfied by *privateer.Privateer.
type StageSweeper interface {
	SweepExpiredStaged(ttl time.Duration) int
}

// Maintenance wraps a gocron scheduler running the GC and stage sweeps on
// independent intervals. The zero value is not usable; build with New.
type Maintenance struct {
	cron gocron.Scheduler

	gc    GCSweeper
	stage StageSweeper
	cfg   Config

	logger *zap.Logger
}

// New builds a Maintenance scheduler. gc and stage may be nil to disable
// that sweep entirely (e.g. a read-only replica with no local Privateer
// stage to clean up).
func New(gc GCSweeper, stage StageSweeper, cfg Config) (*Maintenance, error) {
	if cfg.GCSweepInterval <= 0 {
		cfg.GCSweepInterval = defaultGCSweepInterval
	}
	if cfg.StageSweepInterval <= 0 {
		cfg.StageSweepInterval = defaultStageSweepInterval
	}
	if cfg.StageTTL <= 0 {
		cfg.StageTTL = defaultStageTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("maintenance: new scheduler: %w", err)
	}

	return &Maintenance{
		cron:   s,
		gc:     gc,
		stage:  stage,
		cfg:    cfg,
		logger: logger.Named("maintenance"),
	}, nil
}

// Start registers both sweep jobs and starts the scheduler. Call once at
// daemon startup.
func (m *Maintenance) Start(ctx context.Context) error {
	if m.gc != nil {
		if err := m.addGCSweepJob(ctx); err != nil {
			return fmt.Errorf("maintenance: add gc sweep job: %w", err)
		}
	}
	if m.stage != nil {
		if err := m.addStageSweepJob(); err != nil {
			return fmt.Errorf("maintenance: add stage sweep job: %w", err)
		}
	}
	m.cron.Start()
	m.logger.Info("maintenance started",
		zap.Duration("gc_sweep_interval", m.cfg.GCSweepInterval),
		zap.Duration("stage_sweep_interval", m.cfg.StageSweepInterval),
		zap.Duration("stage_ttl", m.cfg.StageTTL),
	)
	return nil
}

// Stop gracefully shuts down the scheduler, waiting for any in-flight sweep
// to finish.
func (m *Maintenance) Stop() error {
	if err := m.cron.Shutdown(); err != nil {
		return fmt.Errorf("maintenance: shutdown: %w", err)
	}
	return nil
}

func (m *Maintenance) addGCSweepJob(ctx context.Context) error {
	_, err := m.cron.NewJob(
		gocron.DurationJob(m.cfg.GCSweepInterval),
		gocron.NewTask(func() {
			runID := uuid.New()
			evicted, err := m.gc.Sweep(ctx)
			if err != nil {
				m.logger.Error("gc sweep failed", zap.String("run_id", runID.String()), zap.Error(err))
				return
			}
			if evicted > 0 {
				m.logger.Info("gc sweep evicted orphans", zap.String("run_id", runID.String()), zap.Int("count", evicted))
			}
		}),
		gocron.WithTags(gcSweepTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for %s: %w", gcSweepTag, err)
	}
	return nil
}

func (m *Maintenance) addStageSweepJob() error {
	_, err := m.cron.NewJob(
		gocron.DurationJob(m.cfg.StageSweepInterval),
		gocron.NewTask(func() {
			runID := uuid.New()
			dropped := m.stage.SweepExpiredStaged(m.cfg.StageTTL)
			if dropped > 0 {
				m.logger.Info("stage sweep abandoned expired secrets", zap.String("run_id", runID.String()), zap.Int("count", dropped))
			}
		}),
		gocron.WithTags(stageSweepTag),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for %s: %w", stageSweepTag, err)
	}
	return nil
}
