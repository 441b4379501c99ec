// Package metrics exposes the Prometheus collectors for cache refill, queue
// consumption and redirect token issuance. Each Metrics owns its registry so
// the HTTP layer can serve exactly these series and tests can build isolated
// instances.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	QueueDepth       *prometheus.GaugeVec
	FetchTotal       *prometheus.CounterVec
	DiscardedTotal   *prometheus.CounterVec
	SkipIssuedTotal  *prometheus.CounterVec
	SkipResolveTotal *prometheus.CounterVec
}

// Result labels shared by the fetch and skip resolve counters.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultCanceled = "canceled"
	ResultNotFound = "not_found"
	ResultExpired  = "expired"
)

// New builds the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "image_provider_cache_queue_depth",
			Help: "Number of ready-to-serve cached images per source",
		}, []string{"source"}),
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "image_provider_refill_fetch_total",
			Help: "Refill fetch attempts per source and result",
		}, []string{"source", "result"}),
		DiscardedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "image_provider_cache_discarded_total",
			Help: "Queue entries dropped by consumers because the file no longer exists",
		}, []string{"source"}),
		SkipIssuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "image_provider_skip_issued_total",
			Help: "Redirect tokens issued, by locality",
		}, []string{"local"}),
		SkipResolveTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "image_provider_skip_resolve_total",
			Help: "Redirect token lookups, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) SetQueueDepth(source string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(source).Set(float64(depth))
}

func (m *Metrics) IncFetch(source, result string) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(source, result).Inc()
}

func (m *Metrics) IncDiscarded(source string) {
	if m == nil {
		return
	}
	m.DiscardedTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) IncSkipIssued(isLocal bool) {
	if m == nil {
		return
	}
	label := "false"
	if isLocal {
		label = "true"
	}
	m.SkipIssuedTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) IncSkipResolve(result string) {
	if m == nil {
		return
	}
	m.SkipResolveTotal.WithLabelValues(result).Inc()
}
