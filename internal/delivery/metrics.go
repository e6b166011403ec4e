package delivery

import (
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/metrics"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts delivery outcomes. A nil *Metrics is valid and records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	duration   prometheus.Histogram
	queueDepth prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_requests_total",
			Help: "Send requests by terminal status",
		}, []string{"status"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delivery_recipient_attempts_total",
			Help: "Per-recipient SMTP attempts by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivery_duration_seconds",
			Help:    "Time from job start to terminal status",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delivery_queue_depth",
			Help: "Jobs waiting for a worker",
		}),
	}
	if err := metrics.Register(reg, m.requests, m.attempts, m.duration, m.queueDepth); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observeOutcome(status storage.DeliveryStatus, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(status)).Inc()
	m.duration.Observe(took.Seconds())
}

func (m *Metrics) recipientAttempt(accepted bool, n int) {
	if m == nil || n <= 0 {
		return
	}
	result := "failed"
	if accepted {
		result = "accepted"
	}
	m.attempts.WithLabelValues(result).Add(float64(n))
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
