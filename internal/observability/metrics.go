package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Transitions       *prometheus.CounterVec
	TransitionErrors  *prometheus.CounterVec
	ActiveSessions    prometheus.Gauge
	SweepExpirations  *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	FanoutPublished   *prometheus.CounterVec
	FanoutDropped     *prometheus.CounterVec
	Subscribers       prometheus.Gauge
	WebhookDeliveries *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Successful task and session transitions by event.",
		}, []string{"event"}),
		TransitionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transition_errors_total",
			Help:      "Rejected operations by operation and error kind.",
		}, []string{"op", "kind"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Action sessions opened minus sessions released since start.",
		}),
		SweepExpirations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_expirations_total",
			Help:      "Records expired by the sweeper by kind.",
		}, []string{"kind"}),
		SweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_ms",
			Help:      "Duration of one sweep pass in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000},
		}),
		FanoutPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_published_total",
			Help:      "Events delivered to subscriber queues by topic kind.",
		}, []string{"topic"}),
		FanoutDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_dropped_total",
			Help:      "Events dropped by stage (dispatch or subscriber).",
		}, []string{"stage"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fanout_subscribers",
			Help:      "Current fan-out subscribers.",
		}),
		WebhookDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveTransition(event string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) ObserveTransitionError(op, kind string) {
	if m == nil {
		return
	}
	m.TransitionErrors.WithLabelValues(op, kind).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) ObserveSweep(d time.Duration, sessions, tasks int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(float64(d.Milliseconds()))
	m.SweepExpirations.WithLabelValues("session").Add(float64(sessions))
	m.SweepExpirations.WithLabelValues("task").Add(float64(tasks))
}

func (m *Metrics) ObservePublished(topic string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.FanoutPublished.WithLabelValues(topic).Add(float64(n))
}

func (m *Metrics) ObserveDropped(stage string) {
	if m == nil {
		return
	}
	m.FanoutDropped.WithLabelValues(stage).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.Subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.Subscribers.Dec()
}

func (m *Metrics) ObserveWebhook(outcome string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
