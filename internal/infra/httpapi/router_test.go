package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clinic_reminder_dispatch/internal/app"
	"clinic_reminder_dispatch/internal/domain/reminder"
	"clinic_reminder_dispatch/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) RunCycle(ctx context.Context) (reminder.CycleResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(reminder.CycleResult), args.Error(1)
}

type mockPurger struct{ mock.Mock }

func (m *mockPurger) PurgeSent(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type mockCreator struct{ mock.Mock }

func (m *mockCreator) CreateReminders(ctx context.Context, id uuid.UUID) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

type mockExhausted struct{ mock.Mock }

func (m *mockExhausted) ListExhausted(ctx context.Context, limit int) ([]reminder.Candidate, error) {
	args := m.Called(ctx, limit)
	candidates, _ := args.Get(0).([]reminder.Candidate)
	return candidates, args.Error(1)
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

type testAPI struct {
	router    *mux.Router
	runner    *mockRunner
	purger    *mockPurger
	creator   *mockCreator
	exhausted *mockExhausted
}

func newTestAPI(t *testing.T, secret string, ping error) *testAPI {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	api := &testAPI{
		runner:    &mockRunner{},
		purger:    &mockPurger{},
		creator:   &mockCreator{},
		exhausted: &mockExhausted{},
	}
	reg := prometheus.NewRegistry()
	handler := NewReminderHandler(api.runner, api.purger, api.creator, api.exhausted, time.Minute, entry)
	api.router = NewRouter(handler, NewHealthHandler(fakePinger{err: ping}, entry), secret, metrics.New(reg), reg, entry)
	return api
}

func (a *testAPI) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func TestRunReminders(t *testing.T) {
	api := newTestAPI(t, "s3cret", nil)
	api.runner.On("RunCycle", mock.Anything).Return(reminder.CycleResult{Sent: 3, Failed: 1, Skipped: 2}, nil).Twice()

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := api.do(method, "/api/cron/reminders", "s3cret")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"success":true,"results":{"sent":3,"failed":1,"skipped":2}}`, rec.Body.String())
	}
	api.runner.AssertExpectations(t)
}

func TestRunReminders_Unauthorized(t *testing.T) {
	api := newTestAPI(t, "s3cret", nil)

	for _, token := range []string{"", "wrong"} {
		rec := api.do(http.MethodGet, "/api/cron/reminders", token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", strings.TrimSpace(rec.Body.String()))
	}
	api.runner.AssertNotCalled(t, "RunCycle", mock.Anything)
}

func TestRunReminders_OpenWithoutSecret(t *testing.T) {
	api := newTestAPI(t, "", nil)
	api.runner.On("RunCycle", mock.Anything).Return(reminder.CycleResult{}, nil).Once()

	rec := api.do(http.MethodGet, "/api/cron/reminders", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	api.runner.AssertExpectations(t)
}

func TestRunReminders_FetchFailure(t *testing.T) {
	api := newTestAPI(t, "", nil)
	api.runner.On("RunCycle", mock.Anything).Return(reminder.CycleResult{}, app.ErrFetchCandidates).Once()

	rec := api.do(http.MethodPost, "/api/cron/reminders", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch reminders"}`, rec.Body.String())
}

func TestPurgeReminders(t *testing.T) {
	api := newTestAPI(t, "s3cret", nil)
	api.purger.On("PurgeSent", mock.Anything).Return(int64(12), nil).Once()

	rec := api.do(http.MethodGet, "/api/cron/purge", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"deleted":12}`, rec.Body.String())

	api.purger.On("PurgeSent", mock.Anything).Return(int64(0), errors.New("db gone")).Once()
	rec = api.do(http.MethodPost, "/api/cron/purge", "s3cret")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCreateReminders(t *testing.T) {
	api := newTestAPI(t, "", nil)
	known, unknown := uuid.New(), uuid.New()
	api.creator.On("CreateReminders", mock.Anything, known).Return(int64(2), nil).Once()
	api.creator.On("CreateReminders", mock.Anything, unknown).Return(int64(0), reminder.ErrAppointmentNotFound).Once()

	rec := api.do(http.MethodPost, "/api/appointments/"+known.String()+"/reminders", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"created":2}`, rec.Body.String())

	rec = api.do(http.MethodPost, "/api/appointments/"+unknown.String()+"/reminders", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodPost, "/api/appointments/not-a-uuid/reminders", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	api.creator.AssertExpectations(t)
}

func TestListExhausted(t *testing.T) {
	api := newTestAPI(t, "", nil)
	startsAt := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	c := reminder.Candidate{
		Reminder: reminder.Reminder{
			ID: uuid.New(), AppointmentID: uuid.New(), Kind: reminder.KindLongLead,
			Status: reminder.StatusFailed, RetryCount: 3,
			LastError: sql.NullString{String: "bounced", Valid: true},
		},
		Appointment: &reminder.Appointment{StartsAt: startsAt, PatientName: sql.NullString{String: "Hana", Valid: true}},
	}
	api.exhausted.On("ListExhausted", mock.Anything, 5).Return([]reminder.Candidate{c}, nil).Once()

	rec := api.do(http.MethodGet, "/api/reminders/exhausted?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "24h", body[0]["kind"])
	assert.Equal(t, 3.0, body[0]["retry_count"])
	assert.Equal(t, "bounced", body[0]["last_error"])
	assert.Equal(t, "Hana", body[0]["patient_name"])

	rec = api.do(http.MethodGet, "/api/reminders/exhausted?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	api := newTestAPI(t, "s3cret", nil)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/readyz", "").Code)

	rec := api.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reminder_dispatch_http_requests_total")

	down := newTestAPI(t, "", errors.New("connection refused"))
	rec = down.do(http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}
