package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hypergolix/hypergolix/internal/bookie"
	hgconfig "github.com/hypergolix/hypergolix/internal/config"
	"github.com/hypergolix/hypergolix/internal/doorman"
	"github.com/hypergolix/hypergolix/internal/enforcer"
	"github.com/hypergolix/hypergolix/internal/gao"
	"github.com/hypergolix/hypergolix/internal/golix"
	"github.com/hypergolix/hypergolix/internal/lawyer"
	"github.com/hypergolix/hypergolix/internal/librarian"
	"github.com/hypergolix/hypergolix/internal/maintenance"
	"github.com/hypergolix/hypergolix/internal/metrics"
	"github.com/hypergolix/hypergolix/internal/oracle"
	"github.com/hypergolix/hypergolix/internal/persistence"
	"github.com/hypergolix/hypergolix/internal/postman"
	"github.com/hypergolix/hypergolix/internal/privateer"
	"github.com/hypergolix/hypergolix/internal/remote"
	"github.com/hypergolix/hypergolix/internal/repository"
	"github.com/hypergolix/hypergolix/internal/store"
	"github.com/hypergolix/hypergolix/internal/undertaker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &hgconfig.Config{}

	root := &cobra.Command{
		Use:   "hypergolixd",
		Short: "Hypergolix daemon — content-addressed object persistence engine",
		Long: `hypergolixd runs the Hypergolix persistence engine: the Doorman ->
Enforcer -> Lawyer -> Bookie -> Librarian -> Undertaker -> Postman ingest
pipeline, the Oracle registry of live objects, and the background GC and
Privateer stage sweeps. It exposes no application-facing IPC surface, only
a loopback health/metrics endpoint and the remote peer protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())
	hgconfig.BindFlags(root, cfg)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hypergolixd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *hgconfig.Config) error {
	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		return err
	}

	gcInterval, err := time.ParseDuration(cfg.GCSweepInterval)
	if err != nil {
		return fmt.Errorf("invalid gc-sweep-interval: %w", err)
	}
	stageInterval, err := time.ParseDuration(cfg.StageSweepInterval)
	if err != nil {
		return fmt.Errorf("invalid stage-sweep-interval: %w", err)
	}
	stageTTL, err := time.ParseDuration(cfg.StageTTL)
	if err != nil {
		return fmt.Errorf("invalid stage-ttl: %w", err)
	}

	logger.Info("starting hypergolixd",
		zap.String("version", version),
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("log_level", cfg.LogLevel),
	)

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Metrics ---
	met := metrics.New()

	// --- 2. Database ---
	gormDB, err := store.New(store.Config{
		Driver:        cfg.DBDriver,
		DSN:           cfg.DBDSN,
		Logger:        logger,
		LogLevel:      gormLogLevel(cfg.LogLevel),
		EncryptionKey: cfg.EncryptionKeyBytes(),
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	recordRepo := repository.NewRecordRepository(gormDB)
	secretRepo := repository.NewSecretRepository(gormDB)
	persistentSecrets := repository.NewPersistentSecretStore(secretRepo)
	localOnlySecrets := repository.NewLocalOnlySecretStore(secretRepo)

	// --- 4. Ingest pipeline components ---
	book := bookie.New()
	lib := librarian.New(recordRepo)
	door := doorman.New(lib)
	enf := enforcer.New()
	law := lawyer.New(lib, book)
	under := undertaker.New(lib, book)
	pm := postman.New()
	go pm.Run(ctx)

	// --- 5. Golix core, Privateer ---
	golixCore, err := golix.NewGolixCore()
	if err != nil {
		return fmt.Errorf("failed to initialize golix core: %w", err)
	}
	pv := privateer.New(persistentSecrets, localOnlySecrets)

	// --- 6. Optional upstream remote client ---
	var upstream *remote.Client
	if cfg.UpstreamURL != "" {
		upstream, err = remote.Dial(ctx, cfg.UpstreamURL, cfg.UpstreamSharedSecret, logger)
		if err != nil {
			return fmt.Errorf("failed to dial upstream %s: %w", cfg.UpstreamURL, err)
		}
		defer upstream.Close()
	}

	// --- 7. Persistence core ---
	var salmonator persistence.Salmonator
	if upstream != nil {
		salmonator = upstream
	}
	core := persistence.New(persistence.Config{
		Doorman:       door,
		Enforcer:      enf,
		Lawyer:        law,
		Bookie:        book,
		Librarian:     lib,
		Undertaker:    under,
		Postman:       pm,
		Salmonator:    salmonator,
		Metrics:       met,
		VerifyWorkers: cfg.VerifyWorkers,
	})

	// --- 8. Restore Bookie's in-memory indices from durable storage ---
	restored, err := lib.Restore(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore librarian cache: %w", err)
	}
	for _, p := range restored {
		book.Apply(p)
	}
	logger.Info("restored persisted records", zap.Int("count", len(restored)))

	// --- 9. Oracle ---
	var remoteFetcher gao.RemoteFetcher
	if upstream != nil {
		remoteFetcher = upstream
	}
	oc := oracle.New(oracle.Config{
		Librarian: lib,
		Core:      core,
		Postman:   pm,
		Privateer: pv,
		GolixCore: golixCore,
		Bookie:    book,
		Remote:    remoteFetcher,
		Legroom:   cfg.Legroom,
		Logger:    logger,
	})

	// Oracle's registry has no caller in this headless daemon (no
	// application-facing IPC is exposed to create or pull objects here,
	// per SPEC_FULL.md), but its live-object count is still worth
	// reporting alongside everything else on the metrics endpoint.
	go reportLiveObjects(ctx, oc, met)

	// --- 10. Background maintenance sweeps ---
	gcSweeper := instrumentedGCSweeper{inner: maintenance.NewGCSweeper(under, lib), metrics: met}
	stageSweeper := instrumentedStageSweeper{inner: pv, metrics: met}
	maint, err := maintenance.New(gcSweeper, stageSweeper, maintenance.Config{
		GCSweepInterval:    gcInterval,
		StageSweepInterval: stageInterval,
		StageTTL:           stageTTL,
		Logger:             logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build maintenance scheduler: %w", err)
	}
	if err := maint.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance scheduler: %w", err)
	}
	defer func() {
		if err := maint.Stop(); err != nil {
			logger.Warn("maintenance shutdown error", zap.Error(err))
		}
	}()

	// --- 11. Remote peer server ---
	remoteSrv := remote.NewServer(remote.Config{
		Core:         core,
		Librarian:    lib,
		Bookie:       book,
		Postman:      pm,
		SharedSecret: cfg.SharedSecret,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.Handle(cfg.RemotePath, remoteSrv)

	remoteHTTPSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("remote peer server listening", zap.String("addr", cfg.ListenAddr), zap.String("path", cfg.RemotePath))
		if err := remoteHTTPSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("remote peer server error", zap.Error(err))
			cancel()
		}
	}()

	// --- 12. Loopback health/metrics endpoint ---
	healthRouter := chi.NewRouter()
	healthRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context(), gormDB); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "db unreachable: %v", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})
	healthRouter.Handle("/metrics", promhttp.HandlerFor(met.Registry(), promhttp.HandlerOpts{}))

	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      healthRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health/metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health/metrics server error", zap.Error(err))
			cancel()
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down hypergolixd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := remoteHTTPSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("remote peer server graceful shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("health/metrics server graceful shutdown error", zap.Error(err))
	}

	logger.Info("hypergolixd stopped")
	return nil
}

// reportLiveObjects periodically copies the Oracle's registry size onto
// the live-objects gauge until ctx is done.
func reportLiveObjects(ctx context.Context, oc *oracle.Oracle, met *metrics.Metrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			met.SetLiveObjects(oc.Count())
		}
	}
}

// instrumentedGCSweeper wraps a maintenance.GCSweeper to record the
// orphan count each sweep finds.
type instrumentedGCSweeper struct {
	inner   maintenance.GCSweeper
	metrics *metrics.Metrics
}

func (s instrumentedGCSweeper) Sweep(ctx context.Context) (int, error) {
	n, err := s.inner.Sweep(ctx)
	if err == nil {
		s.metrics.AddGCSwept(n)
	}
	return n, err
}

// instrumentedStageSweeper wraps a maintenance.StageSweeper to record how
// many staged secrets each sweep abandons.
type instrumentedStageSweeper struct {
	inner   maintenance.StageSweeper
	metrics *metrics.Metrics
}

func (s instrumentedStageSweeper) SweepExpiredStaged(ttl time.Duration) int {
	n := s.inner.SweepExpiredStaged(ttl)
	s.metrics.AddStageAbandoned(n)
	return n
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
