package app

import (
	"context"
	"fmt"

	"clinic_reminder_dispatch/internal/domain/reminder"
)

// ErrAdminNotAuthorized is returned when a staff command comes from someone other than the admin.
var ErrAdminNotAuthorized = fmt.Errorf("performing user is not authorized as an admin")

const (
	DefaultExhaustedLimit = 20
	MaxExhaustedLimit     = 100
)

// OpsService backs the staff-facing operations: manual cycles and the exhausted reminder report.
type OpsService struct {
	dispatcher      DispatchService
	store           reminder.Store
	maxAttempts     int
	adminTelegramID int64
}

func NewOpsService(dispatcher DispatchService, store reminder.Store, maxAttempts int, adminID int64) *OpsService {
	return &OpsService{
		dispatcher:      dispatcher,
		store:           store,
		maxAttempts:     maxAttempts,
		adminTelegramID: adminID,
	}
}

// IsAdmin reports whether the given Telegram user may run staff commands.
func (s *OpsService) IsAdmin(performingAdminID int64) bool {
	return s.adminTelegramID != 0 && performingAdminID == s.adminTelegramID
}

// RunCycle triggers a dispatch cycle on behalf of the admin.
func (s *OpsService) RunCycle(ctx context.Context, performingAdminID int64) (reminder.CycleResult, error) {
	if !s.IsAdmin(performingAdminID) {
		return reminder.CycleResult{}, ErrAdminNotAuthorized
	}
	return s.dispatcher.RunCycle(ctx)
}

// ExhaustedForAdmin lists exhausted reminders on behalf of the admin.
func (s *OpsService) ExhaustedForAdmin(ctx context.Context, performingAdminID int64, limit int) ([]reminder.Candidate, error) {
	if !s.IsAdmin(performingAdminID) {
		return nil, ErrAdminNotAuthorized
	}
	return s.ListExhausted(ctx, limit)
}

// ListExhausted returns failed reminders that will not be retried again, newest first.
// A non-positive limit uses the default; larger limits are capped.
func (s *OpsService) ListExhausted(ctx context.Context, limit int) ([]reminder.Candidate, error) {
	if limit <= 0 {
		limit = DefaultExhaustedLimit
	}
	if limit > MaxExhaustedLimit {
		limit = MaxExhaustedLimit
	}
	exhausted, err := s.store.ListExhausted(ctx, s.maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exhausted reminders: %w", err)
	}
	return exhausted, nil
}
