package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for campaignd
type Metrics struct {
	// Dispatch counters
	SendsTotal        *prometheus.CounterVec // result: sent|failed|skipped|duplicate
	CampaignRunsTotal *prometheus.CounterVec // result: completed|rejected|aborted
	CampaignsActive   prometheus.Gauge
	SendDuration      prometheus.Histogram

	// Engagement counters
	EventsTotal *prometheus.CounterVec // type: delivery|bounce|complaint|open|click|unsubscribe

	// Scheduler
	SchedulerTicksTotal *prometheus.CounterVec // result: acquired|skipped|error

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_sends_total",
				Help: "Total per-recipient send attempts by result",
			},
			[]string{"result"},
		),
		CampaignRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_campaign_runs_total",
				Help: "Total campaign dispatch runs by result",
			},
			[]string{"result"},
		),
		CampaignsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "campaignd_campaigns_active",
				Help: "Number of campaigns currently dispatching",
			},
		),
		SendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "campaignd_send_duration_seconds",
				Help:    "Duration of individual send attempts in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_events_total",
				Help: "Total delivery engagement events by type",
			},
			[]string{"type"},
		),
		SchedulerTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_scheduler_ticks_total",
				Help: "Total scheduler ticks by result",
			},
			[]string{"result"},
		),
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "campaignd_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "campaignd_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.SendsTotal,
		m.CampaignRunsTotal,
		m.CampaignsActive,
		m.SendDuration,
		m.EventsTotal,
		m.SchedulerTicksTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
