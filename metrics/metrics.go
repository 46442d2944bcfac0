// Package metrics exposes Prometheus instrumentation for a replica:
// counts of applied/deferred remote integrations (a duplicate counts
// as applied) and the current pending-buffer depth. Ambient observability, carried
// regardless of any feature non-goal (the spec excludes building a
// metrics *system*, not basic instrumentation of the one we build).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric a replica emits.
type Collector struct {
	IntegrationsTotal *prometheus.CounterVec
	PendingDepth      *prometheus.GaugeVec
	SyncRounds        prometheus.Counter
}

// NewCollector builds and registers a fresh Collector against reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		IntegrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yatadoc_integrations_total",
			Help: "Remote block integration attempts by outcome.",
		}, []string{"doc", "outcome"}),
		PendingDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "yatadoc_pending_depth",
			Help: "Number of remote updates currently buffered awaiting their anchors.",
		}, []string{"doc"}),
		SyncRounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yatadoc_sync_rounds_total",
			Help: "Number of completed outbound sync rounds.",
		}),
	}
	reg.MustRegister(c.IntegrationsTotal, c.PendingDepth, c.SyncRounds)
	return c
}

// Handler returns the /metrics exposition handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
