// Package metrics is the daemon's one ambient observability surface: a
// handful of prometheus counters an operator would actually look at, plus
// the loopback HTTP handler exposing them. Grounded on arkeep's use of
// prometheus/client_golang counters in its scheduler/job-run bookkeeping,
// adapted down to the numbers that matter for a persistence engine: ingest
// throughput by primitive kind, and how much the background sweeps find to
// clean up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hypergolix/hypergolix/internal/golix"
)

// Metrics holds every counter/gauge the daemon exposes. The zero value is
// not usable; build with New.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal     *prometheus.CounterVec
	ingestErrors    *prometheus.CounterVec
	gcSwept         prometheus.Counter
	stageAbandoned  prometheus.Counter
	liveObjects     prometheus.Gauge
}

// New builds a Metrics with its own registry (not the global default one,
// so tests can build isolated instances without colliding registrations).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypergolix",
			Name:      "ingest_total",
			Help:      "Primitives successfully ingested, by kind.",
		}, []string{"kind"}),
		ingestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hypergolix",
			Name:      "ingest_errors_total",
			Help:      "Ingest attempts that failed, by kind (unknown if parsing itself failed).",
		}, []string{"kind"}),
		gcSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypergolix",
			Name:      "gc_swept_total",
			Help:      "Orphaned containers removed by the periodic GC sweep.",
		}),
		stageAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "hypergolix",
			Name:      "stage_secrets_abandoned_total",
			Help:      "Staged Privateer secrets abandoned for exceeding the stage TTL with no commit.",
		}),
		liveObjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hypergolix",
			Name:      "oracle_live_objects",
			Help:      "GAOs currently registered in the Oracle.",
		}),
	}

	reg.MustRegister(m.ingestTotal, m.ingestErrors, m.gcSwept, m.stageAbandoned, m.liveObjects)
	return m
}

// Registry returns the prometheus registry backing these metrics, for
// mounting behind promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveIngest implements persistence.Metrics.
func (m *Metrics) ObserveIngest(kind golix.Kind, err error) {
	label := kind.String()
	if err != nil {
		m.ingestErrors.WithLabelValues(label).Inc()
		return
	}
	m.ingestTotal.WithLabelValues(label).Inc()
}

// AddGCSwept implements maintenance's instrumentation point for the GC
// sweep's orphan count.
func (m *Metrics) AddGCSwept(n int) {
	m.gcSwept.Add(float64(n))
}

// AddStageAbandoned implements maintenance's instrumentation point for the
// stage sweep's abandoned-secret count.
func (m *Metrics) AddStageAbandoned(n int) {
	m.stageAbandoned.Add(float64(n))
}

// SetLiveObjects records the Oracle's current registry size.
func (m *Metrics) SetLiveObjects(n int) {
	m.liveObjects.Set(float64(n))
}
