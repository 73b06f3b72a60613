// internal/infra/metrics/metrics.go
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reminder_dispatch"

// Metrics holds the Prometheus collectors of the dispatcher.
type Metrics struct {
	RemindersProcessed *prometheus.CounterVec
	Cycles             *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	LastCycleResult    *prometheus.GaugeVec
	PurgedTotal        prometheus.Counter

	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RemindersProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_processed_total",
				Help:      "Reminders handled by dispatch cycles, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Cycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Dispatch cycles run, by result",
			},
			[]string{"result"},
		),
		CycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Dispatch cycle duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		LastCycleResult: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_cycle_reminders",
				Help:      "Counts reported by the most recent successful cycle",
			},
			[]string{"outcome"},
		),
		PurgedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reminders_purged_total",
				Help:      "Sent reminders deleted by the retention purge",
			},
		),
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
		),
	}
}

func (m *Metrics) ReminderProcessed(kind reminder.Kind, outcome reminder.Outcome) {
	m.RemindersProcessed.WithLabelValues(string(kind), string(outcome)).Inc()
}

func (m *Metrics) CycleCompleted(result reminder.CycleResult, elapsed time.Duration, err error) {
	m.CycleDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.Cycles.WithLabelValues("error").Inc()
		return
	}
	m.Cycles.WithLabelValues("ok").Inc()
	m.LastCycleResult.WithLabelValues(string(reminder.OutcomeSent)).Set(float64(result.Sent))
	m.LastCycleResult.WithLabelValues(string(reminder.OutcomeFailed)).Set(float64(result.Failed))
	m.LastCycleResult.WithLabelValues(string(reminder.OutcomeSkipped)).Set(float64(result.Skipped))
}

func (m *Metrics) RemindersPurged(count int64) {
	m.PurgedTotal.Add(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count, duration and in-flight requests per mux route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
	})
}
