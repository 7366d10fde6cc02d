// Package metrics exposes the bouncer's Prometheus collectors.
//
// Every method is nil-safe so components can run without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bouncer"

// Metrics holds the collectors reported at /metrics.
type Metrics struct {
	reg *prometheus.Registry

	uploads         *prometheus.CounterVec
	invitesIssued   *prometheus.CounterVec
	invitesConsumed *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	albumPending    prometheus.Gauge
	albumSize       prometheus.Histogram
	teardowns       *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	tasksActive     prometheus.Gauge
	feedClients     prometheus.Gauge
}

// New constructs Metrics on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return MustNewMetrics(reg)
}

// MustNewMetrics registers the bouncer collectors with reg. Registration errors panic,
// which mirrors promauto and surfaces wiring bugs at startup.
func MustNewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		reg: reg,
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Media submissions by ingestion outcome.",
		}, []string{"outcome"}),
		invitesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_issued_total",
			Help:      "Invite link issuance attempts by result.",
		}, []string{"result"}),
		invitesConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invites_consumed_total",
			Help:      "Join events carrying an invite link, by consumption result.",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_decisions_total",
			Help:      "Quota assessments by decision.",
		}, []string{"decision"}),
		albumPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "album_pending",
			Help:      "Album batches waiting for their settle timer.",
		}),
		albumSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "album_batch_size",
			Help:      "Number of media items drained per album batch.",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 10},
		}),
		teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Chat teardowns by trigger.",
		}, []string{"trigger"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Failed or panicking event handlers by operation.",
		}, []string{"op"}),
		tasksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "background_tasks_active",
			Help:      "Background tasks currently running.",
		}),
		feedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Connected live feed websocket clients.",
		}),
	}
	reg.MustRegister(
		m.uploads, m.invitesIssued, m.invitesConsumed, m.decisions,
		m.albumPending, m.albumSize, m.teardowns, m.handlerErrors,
		m.tasksActive, m.feedClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.reg == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Upload(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) InviteIssued(result string) {
	if m == nil {
		return
	}
	m.invitesIssued.WithLabelValues(result).Inc()
}

func (m *Metrics) InviteConsumed(result string) {
	if m == nil {
		return
	}
	m.invitesConsumed.WithLabelValues(result).Inc()
}

func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) SetAlbumPending(n int) {
	if m == nil {
		return
	}
	m.albumPending.Set(float64(n))
}

func (m *Metrics) ObserveAlbumSize(n int) {
	if m == nil {
		return
	}
	m.albumSize.Observe(float64(n))
}

func (m *Metrics) Teardown(trigger string) {
	if m == nil {
		return
	}
	m.teardowns.WithLabelValues(trigger).Inc()
}

func (m *Metrics) HandlerError(op string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksActive.Inc()
}

func (m *Metrics) TaskDone() {
	if m == nil {
		return
	}
	m.tasksActive.Dec()
}

func (m *Metrics) FeedClients(delta int) {
	if m == nil {
		return
	}
	m.feedClients.Add(float64(delta))
}
