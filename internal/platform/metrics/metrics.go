package metrics

import (
	"net/http"
	"time"

	"coursehub/internal/platform/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the webhook delivery collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	DeliveryAttemptsTotal   *prometheus.CounterVec
	DeliveryAttemptDuration *prometheus.HistogramVec
	DeliveryChainsTotal     *prometheus.CounterVec
	DeliveryChainsInFlight  prometheus.Gauge
	EventsTriggeredTotal    *prometheus.CounterVec
	StatsUpdateErrorsTotal  prometheus.Counter
	WebhooksByStatus        *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		DeliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_webhook_delivery_attempts_total",
				Help: "Total number of webhook delivery attempts",
			},
			[]string{"event", "outcome"},
		),
		DeliveryAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coursehub_webhook_delivery_attempt_duration_seconds",
				Help:    "Duration of a single webhook delivery attempt",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"event"},
		),
		DeliveryChainsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_webhook_delivery_chains_total",
				Help: "Completed delivery chains by final result",
			},
			[]string{"event", "result"},
		),
		DeliveryChainsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "coursehub_webhook_delivery_chains_in_flight",
				Help: "Delivery chains that have not reached a terminal state",
			},
		),
		EventsTriggeredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coursehub_webhook_events_triggered_total",
				Help: "Domain events handed to the dispatcher",
			},
			[]string{"event"},
		),
		StatsUpdateErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "coursehub_webhook_stats_update_errors_total",
				Help: "Delivery outcomes that could not be written to webhook statistics",
			},
		),
		WebhooksByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coursehub_webhooks",
				Help: "Registered webhooks by lifecycle status",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		m.DeliveryAttemptsTotal,
		m.DeliveryAttemptDuration,
		m.DeliveryChainsTotal,
		m.DeliveryChainsInFlight,
		m.EventsTriggeredTotal,
		m.StatsUpdateErrorsTotal,
		m.WebhooksByStatus,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveAttempt(event models.EventType, success bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := models.DeliveryFailed
	if success {
		outcome = models.DeliverySuccess
	}
	m.DeliveryAttemptsTotal.WithLabelValues(string(event), outcome).Inc()
	m.DeliveryAttemptDuration.WithLabelValues(string(event)).Observe(d.Seconds())
}

func (m *Metrics) ChainStarted() {
	if m == nil {
		return
	}
	m.DeliveryChainsInFlight.Inc()
}

func (m *Metrics) ChainFinished(event models.EventType, result string) {
	if m == nil {
		return
	}
	m.DeliveryChainsInFlight.Dec()
	m.DeliveryChainsTotal.WithLabelValues(string(event), result).Inc()
}

func (m *Metrics) EventTriggered(event models.EventType) {
	if m == nil {
		return
	}
	m.EventsTriggeredTotal.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) StatsUpdateFailed() {
	if m == nil {
		return
	}
	m.StatsUpdateErrorsTotal.Inc()
}

func (m *Metrics) SetWebhookCounts(counts map[models.WebhookStatus]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.WebhooksByStatus.WithLabelValues(string(status)).Set(float64(n))
	}
}
