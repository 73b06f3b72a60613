package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler provides liveness and readiness probes.
type HealthHandler struct {
	db        Pinger
	startTime time.Time
	logger    *logrus.Entry
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Details   map[string]string `json:"details,omitempty"`
}

func NewHealthHandler(db Pinger, logger *logrus.Entry) *HealthHandler {
	return &HealthHandler{db: db, startTime: time.Now(), logger: logger}
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := healthResponse{
		Status:    "UP",
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(h.startTime).String(),
		Details:   map[string]string{"database": "OK"},
	}
	status := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		response.Status = "DOWN"
		response.Details["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response, h.logger)
}
