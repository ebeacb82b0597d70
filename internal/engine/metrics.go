package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the Prometheus surface this module exposes: bootstrap
// reliability, discovery throughput, and record verification failures
// (SPEC_FULL.md §4 "Supplemented features" — ambient observability, not a
// feature the Non-goals exclude).
type Metrics struct {
	BootstrapAttempts  *prometheus.CounterVec
	DiscoveryRuns      prometheus.Counter
	DiscoveryConnected prometheus.Gauge
	VerifyFailures     *prometheus.CounterVec
	CacheSize          prometheus.Gauge
}

// NewMetrics registers this module's collectors on reg and returns the
// handles callers record against. Pass a fresh prometheus.NewRegistry() in
// tests to avoid colliding with DefaultRegisterer across parallel tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BootstrapAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "bootstrap",
			Name:      "attempts_total",
			Help:      "Bootstrap runtime-connect attempts by outcome (connected, failed).",
		}, []string{"outcome"}),
		DiscoveryRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "discovery",
			Name:      "runs_total",
			Help:      "Number of registry-refresh discovery runs completed.",
		}),
		DiscoveryConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dna",
			Subsystem: "discovery",
			Name:      "connected_peers",
			Help:      "Peers successfully connected to in the most recent discovery run.",
		}),
		VerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dna",
			Subsystem: "records",
			Name:      "verify_failures_total",
			Help:      "Record signature/AEAD verification failures by record kind.",
		}, []string{"kind"}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dna",
			Subsystem: "bootstrap",
			Name:      "cache_size",
			Help:      "Number of entries currently in the bootstrap peer cache.",
		}),
	}
	reg.MustRegister(m.BootstrapAttempts, m.DiscoveryRuns, m.DiscoveryConnected, m.VerifyFailures, m.CacheSize)
	return m
}
