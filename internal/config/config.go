// Package config defines hypergolixd's flags/env configuration, following
// arkeep cmd/server/main.go's config struct plus envOrDefault pattern
// almost verbatim — only the settings themselves are domain-specific.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Config holds every daemon-wide setting bindable from a flag or an
// environment variable of the same name, env-prefixed HYPERGOLIX_.
type Config struct {
	DataDir string

	DBDriver string
	DBDSN    string

	// EncryptionKey is the master key for encrypting Privateer secrets at
	// rest (AES-256-GCM, padded/truncated to 32 bytes like arkeep's
	// secretKey). Required.
	EncryptionKey string

	LogLevel string

	// ListenAddr is where the remote peer server (incoming pushes,
	// subscriptions, binding/debinding queries) accepts connections.
	ListenAddr string

	// RemotePath is the HTTP path the remote server's websocket upgrade is
	// mounted on.
	RemotePath string

	// SharedSecret, presented by connecting peers in the
	// X-Hypergolix-Secret header. Empty disables the check (dev only).
	SharedSecret string

	// UpstreamURL, if set, makes this process a downstream client of
	// another Hypergolix node: every local ingest is pushed there, and
	// missing containers are fetched from it on a stalled Pull.
	UpstreamURL          string
	UpstreamSharedSecret string

	// MetricsAddr is the loopback address serving /healthz and /metrics.
	// This is the daemon's only HTTP surface; no application-facing IPC is
	// exposed (see SPEC_FULL.md design note 3).
	MetricsAddr string

	// Legroom bounds how many historical frames a GAO keeps live before
	// trimming, per spec.md §3's dynamic-object legroom setting.
	Legroom int

	// VerifyWorkers bounds concurrent Doorman signature verification.
	VerifyWorkers int

	GCSweepInterval    string
	StageSweepInterval string
	StageTTL           string
}

// BindFlags registers every setting as a persistent flag on root, defaulting
// to its environment variable (or a hardcoded fallback) the same way
// arkeep's newRootCmd wires cfg.httpAddr etc.
func BindFlags(root *cobra.Command, cfg *Config) {
	root.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", envOrDefault("HYPERGOLIX_DATA_DIR", "./data"), "Directory for daemon data")
	root.PersistentFlags().StringVar(&cfg.DBDriver, "db-driver", envOrDefault("HYPERGOLIX_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.DBDSN, "db-dsn", envOrDefault("HYPERGOLIX_DB_DSN", "./hypergolix.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.EncryptionKey, "encryption-key", envOrDefault("HYPERGOLIX_ENCRYPTION_KEY", ""), "Master key for encrypting secrets at rest (required)")
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", envOrDefault("HYPERGOLIX_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.ListenAddr, "listen-addr", envOrDefault("HYPERGOLIX_LISTEN_ADDR", ":7770"), "Remote peer server listen address")
	root.PersistentFlags().StringVar(&cfg.RemotePath, "remote-path", envOrDefault("HYPERGOLIX_REMOTE_PATH", "/remote"), "HTTP path the remote peer server is mounted on")
	root.PersistentFlags().StringVar(&cfg.SharedSecret, "shared-secret", envOrDefault("HYPERGOLIX_SHARED_SECRET", ""), "Shared secret required of connecting peers (empty = disabled, dev only)")
	root.PersistentFlags().StringVar(&cfg.UpstreamURL, "upstream-url", envOrDefault("HYPERGOLIX_UPSTREAM_URL", ""), "Upstream remote node URL (empty = this is a standalone/top-level node)")
	root.PersistentFlags().StringVar(&cfg.UpstreamSharedSecret, "upstream-shared-secret", envOrDefault("HYPERGOLIX_UPSTREAM_SHARED_SECRET", ""), "Shared secret to present when dialing the upstream node")
	root.PersistentFlags().StringVar(&cfg.MetricsAddr, "metrics-addr", envOrDefault("HYPERGOLIX_METRICS_ADDR", "127.0.0.1:7771"), "Loopback address serving /healthz and /metrics")
	root.PersistentFlags().IntVar(&cfg.Legroom, "legroom", envOrDefaultInt("HYPERGOLIX_LEGROOM", 3), "Historical frames a dynamic object keeps live before trimming")
	root.PersistentFlags().IntVar(&cfg.VerifyWorkers, "verify-workers", envOrDefaultInt("HYPERGOLIX_VERIFY_WORKERS", 8), "Bounded worker pool width for signature verification")
	root.PersistentFlags().StringVar(&cfg.GCSweepInterval, "gc-sweep-interval", envOrDefault("HYPERGOLIX_GC_SWEEP_INTERVAL", "10m"), "Interval between full GC sweeps")
	root.PersistentFlags().StringVar(&cfg.StageSweepInterval, "stage-sweep-interval", envOrDefault("HYPERGOLIX_STAGE_SWEEP_INTERVAL", "1m"), "Interval between Privateer stage sweeps")
	root.PersistentFlags().StringVar(&cfg.StageTTL, "stage-ttl", envOrDefault("HYPERGOLIX_STAGE_TTL", "5m"), "How long a staged secret may sit uncommitted before being abandoned")
}

// Validate checks the settings that have no sane default and must be
// supplied explicitly.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required — set --encryption-key or HYPERGOLIX_ENCRYPTION_KEY")
	}
	return nil
}

// EncryptionKeyBytes pads or truncates EncryptionKey to exactly 32 bytes
// (AES-256), the same way arkeep's run() prepares cfg.secretKey for
// db.InitEncryption.
func (c *Config) EncryptionKeyBytes() []byte {
	key := make([]byte, 32)
	copy(key, []byte(c.EncryptionKey))
	return key
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return defaultVal
	}
	return n
}
