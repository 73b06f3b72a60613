package httpapi

import (
	"net/http"

	"clinic_reminder_dispatch/internal/infra/metrics"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every HTTP endpoint. m and gatherer may be nil to run without metrics.
func NewRouter(
	reminders *ReminderHandler,
	health *HealthHandler,
	cronSecret string,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *logrus.Entry,
) *mux.Router {
	router := mux.NewRouter()
	if m != nil {
		router.Use(m.Middleware)
	}

	api := router.PathPrefix("/api").Subrouter()
	api.Use(CronSecretMiddleware(cronSecret, logger))

	api.HandleFunc("/cron/reminders", reminders.RunReminders).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/cron/purge", reminders.PurgeReminders).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/appointments/{appointmentId}/reminders", reminders.CreateReminders).Methods(http.MethodPost)
	api.HandleFunc("/reminders/exhausted", reminders.ListExhausted).Methods(http.MethodGet)

	// Probes stay unauthenticated.
	router.HandleFunc("/healthz", health.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.HandleReadiness).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}
