// Package observability holds the Prometheus instrumentation for the alert
// pipeline. Counters are deliberately coarse: enough to see whether
// discovery is finding documents and how often transports fall back.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for one process.
type Metrics struct {
	FetchRequests   *prometheus.CounterVec // labels: transport, outcome={success,absent,failure}
	ParseErrors     prometheus.Counter
	DiscoveryTier   *prometheus.CounterVec // labels: tier={cache,pattern,listing,datewindow,battleboard}
	AlertsParsed    prometheus.Counter
	AlertsMatched   prometheus.Counter
	AlertsReturned  prometheus.Counter
	RunDuration     prometheus.Histogram
	CachedPathCount prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capwatch",
			Name:      "fetch_requests_total",
			Help:      "Fetch attempts by transport and outcome.",
		}, []string{"transport", "outcome"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capwatch",
			Name:      "parse_errors_total",
			Help:      "Documents skipped because XML decoding failed.",
		}),
		DiscoveryTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "capwatch",
			Name:      "discovery_candidates_total",
			Help:      "Candidate paths produced, by discovery tier.",
		}, []string{"tier"}),
		AlertsParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capwatch",
			Name:      "alerts_parsed_total",
			Help:      "Alerts successfully parsed from retrieved documents.",
		}),
		AlertsMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capwatch",
			Name:      "alerts_matched_total",
			Help:      "Alerts that matched the caller's coordinate.",
		}),
		AlertsReturned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "capwatch",
			Name:      "alerts_returned_total",
			Help:      "Alerts returned after conflation.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "capwatch",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		CachedPathCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "capwatch",
			Name:      "cached_paths",
			Help:      "Known-good document paths currently in the cache.",
		}),
	}
}

// NewMetrics creates and registers the collectors with the default registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.ParseErrors,
		m.DiscoveryTier,
		m.AlertsParsed,
		m.AlertsMatched,
		m.AlertsReturned,
		m.RunDuration,
		m.CachedPathCount,
	)
	return m
}

// NewMetricsForTesting creates unregistered collectors so parallel tests do
// not trip the default registry's duplicate check.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
