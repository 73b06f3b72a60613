package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (reminder.CycleResult, error)
}

type Purger interface {
	PurgeSent(ctx context.Context) (int64, error)
}

type ReminderCreator interface {
	CreateReminders(ctx context.Context, appointmentID uuid.UUID) (int64, error)
}

type ExhaustedLister interface {
	ListExhausted(ctx context.Context, limit int) ([]reminder.Candidate, error)
}

// ReminderHandler serves the trigger, booking and reporting endpoints.
type ReminderHandler struct {
	dispatcher   CycleRunner
	purger       Purger
	booking      ReminderCreator
	exhausted    ExhaustedLister
	cycleTimeout time.Duration
	logger       *logrus.Entry
}

func NewReminderHandler(
	dispatcher CycleRunner,
	purger Purger,
	booking ReminderCreator,
	exhausted ExhaustedLister,
	cycleTimeout time.Duration,
	logger *logrus.Entry,
) *ReminderHandler {
	return &ReminderHandler{
		dispatcher:   dispatcher,
		purger:       purger,
		booking:      booking,
		exhausted:    exhausted,
		cycleTimeout: cycleTimeout,
		logger:       logger,
	}
}

type cycleResponse struct {
	Success bool                 `json:"success"`
	Results reminder.CycleResult `json:"results"`
}

type purgeResponse struct {
	Success bool  `json:"success"`
	Deleted int64 `json:"deleted"`
}

type createdResponse struct {
	Created int64 `json:"created"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type exhaustedReminder struct {
	ID            string     `json:"id"`
	AppointmentID string     `json:"appointment_id"`
	Kind          string     `json:"kind"`
	RetryCount    int        `json:"retry_count"`
	LastError     string     `json:"last_error,omitempty"`
	NextRetryAt   *time.Time `json:"next_retry_at,omitempty"`
	StartsAt      time.Time  `json:"starts_at"`
	PatientName   string     `json:"patient_name,omitempty"`
	PatientEmail  string     `json:"patient_email,omitempty"`
}

// jobContext detaches the job from the caller so a dropped connection does not abort a cycle half way.
func (h *ReminderHandler) jobContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), h.cycleTimeout)
}

// RunReminders handles GET|POST /api/cron/reminders.
func (h *ReminderHandler) RunReminders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.jobContext(r)
	defer cancel()

	result, err := h.dispatcher.RunCycle(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Reminder cron failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch reminders"}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, cycleResponse{Success: true, Results: result}, h.logger)
}

// PurgeReminders handles GET|POST /api/cron/purge.
func (h *ReminderHandler) PurgeReminders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.jobContext(r)
	defer cancel()

	deleted, err := h.purger.PurgeSent(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Purge cron failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"}, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, purgeResponse{Success: true, Deleted: deleted}, h.logger)
}

// CreateReminders handles POST /api/appointments/{appointmentId}/reminders.
func (h *ReminderHandler) CreateReminders(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := uuid.Parse(mux.Vars(r)["appointmentId"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid appointment id"}, h.logger)
		return
	}

	created, err := h.booking.CreateReminders(r.Context(), appointmentID)
	if err != nil {
		if errors.Is(err, reminder.ErrAppointmentNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Appointment not found"}, h.logger)
			return
		}
		h.logger.WithError(err).WithField("appointment_id", appointmentID.String()).Error("Failed to create reminders")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"}, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, createdResponse{Created: created}, h.logger)
}

// ListExhausted handles GET /api/reminders/exhausted?limit=n.
func (h *ReminderHandler) ListExhausted(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid limit"}, h.logger)
			return
		}
		limit = n
	}

	candidates, err := h.exhausted.ListExhausted(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list exhausted reminders")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"}, h.logger)
		return
	}

	out := make([]exhaustedReminder, 0, len(candidates))
	for _, c := range candidates {
		item := exhaustedReminder{
			ID:            c.Reminder.ID.String(),
			AppointmentID: c.Reminder.AppointmentID.String(),
			Kind:          string(c.Reminder.Kind),
			RetryCount:    c.Reminder.RetryCount,
			LastError:     c.Reminder.LastError.String,
		}
		if c.Reminder.NextRetryAt.Valid {
			t := c.Reminder.NextRetryAt.Time
			item.NextRetryAt = &t
		}
		if c.Appointment != nil {
			item.StartsAt = c.Appointment.StartsAt
			item.PatientName = c.Appointment.PatientName.String
			item.PatientEmail = c.Appointment.PatientEmail.String
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}

func writeJSON(w http.ResponseWriter, status int, body any, logger *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("Error encoding response")
	}
}
