package telegram

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"clinic_reminder_dispatch/internal/app"
	"clinic_reminder_dispatch/internal/domain/reminder"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/telebot.v3"
)

const adminID int64 = 4242

type mockClient struct {
	mock.Mock
}

func (m *mockClient) SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) error {
	args := m.Called(recipientChatID, text, options)
	return args.Error(0)
}

type mockStore struct {
	mock.Mock
	reminder.Store
}

func (m *mockStore) ListExhausted(ctx context.Context, maxAttempts int, limit int) ([]reminder.Candidate, error) {
	args := m.Called(ctx, maxAttempts, limit)
	if c, ok := args.Get(0).([]reminder.Candidate); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) RunCycle(ctx context.Context) (reminder.CycleResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(reminder.CycleResult), args.Error(1)
}

// fakeContext captures replies; unused telebot.Context methods panic through the nil embed.
type fakeContext struct {
	telebot.Context
	sender  *telebot.User
	args    []string
	replies []string
}

func (c *fakeContext) Sender() *telebot.User { return c.sender }
func (c *fakeContext) Args() []string         { return c.args }
func (c *fakeContext) Send(what interface{}, _ ...interface{}) error {
	c.replies = append(c.replies, what.(string))
	return nil
}

func quietLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func exhaustedCandidate() reminder.Candidate {
	return reminder.Candidate{
		Reminder: reminder.Reminder{
			ID:         uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7"),
			Kind:       reminder.KindLongLead,
			Status:     reminder.StatusFailed,
			RetryCount: 3,
			LastError:  sql.NullString{String: "smtp: 550 mailbox unavailable", Valid: true},
		},
		Appointment: &reminder.Appointment{
			StartsAt:     time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC),
			PatientName:  sql.NullString{String: "Abebe Kebede", Valid: true},
			PatientEmail: sql.NullString{String: "abebe@example.com", Valid: true},
		},
	}
}

func newHandlers(d *mockDispatcher, s *mockStore) *OpsHandlers {
	ops := app.NewOpsService(d, s, reminder.MaxAttempts, adminID)
	return NewOpsHandlers(ops, time.Minute, time.UTC, quietLogger())
}

func TestExhaustedAlerter_NotifyExhausted(t *testing.T) {
	client := new(mockClient)
	alerter := NewExhaustedAlerter(client, adminID, time.UTC)
	c := exhaustedCandidate()

	client.On("SendMessage", adminID, mock.MatchedBy(func(text string) bool {
		return assert.Contains(t, text, c.Reminder.ID.String()) &&
			assert.Contains(t, text, "Attempts: 3") &&
			assert.Contains(t, text, "Abebe Kebede") &&
			assert.Contains(t, text, "Mon Mar 2, 7:30 AM") &&
			assert.Contains(t, text, "550 mailbox unavailable")
	}), mock.Anything).Return(nil).Once()

	err := alerter.NotifyExhausted(context.Background(), c, reminder.FailureUpdate{RetryCount: 3, LastError: "smtp: 550 mailbox unavailable"})
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestExhaustedAlerter_SendError(t *testing.T) {
	client := new(mockClient)
	alerter := NewExhaustedAlerter(client, adminID, nil)
	client.On("SendMessage", adminID, mock.Anything, mock.Anything).Return(errors.New("chat not found")).Once()

	err := alerter.NotifyExhausted(context.Background(), exhaustedCandidate(), reminder.FailureUpdate{RetryCount: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestHandleRun(t *testing.T) {
	t.Run("admin gets cycle summary", func(t *testing.T) {
		d := new(mockDispatcher)
		d.On("RunCycle", mock.Anything).Return(reminder.CycleResult{Sent: 2, Failed: 1, Skipped: 4}, nil).Once()
		c := &fakeContext{sender: &telebot.User{ID: adminID}}

		require.NoError(t, newHandlers(d, new(mockStore)).HandleRun(c))
		require.Len(t, c.replies, 1)
		assert.Contains(t, c.replies[0], "Sent: 2")
		assert.Contains(t, c.replies[0], "Failed: 1")
		assert.Contains(t, c.replies[0], "Skipped: 4")
		d.AssertExpectations(t)
	})

	t.Run("non-admin is refused", func(t *testing.T) {
		d := new(mockDispatcher)
		c := &fakeContext{sender: &telebot.User{ID: 1}}

		require.NoError(t, newHandlers(d, new(mockStore)).HandleRun(c))
		assert.Equal(t, []string{unauthorizedReply}, c.replies)
		d.AssertNotCalled(t, "RunCycle", mock.Anything)
	})

	t.Run("fetch failure is reported", func(t *testing.T) {
		d := new(mockDispatcher)
		d.On("RunCycle", mock.Anything).Return(reminder.CycleResult{}, app.ErrFetchCandidates).Once()
		c := &fakeContext{sender: &telebot.User{ID: adminID}}

		require.NoError(t, newHandlers(d, new(mockStore)).HandleRun(c))
		require.Len(t, c.replies, 1)
		assert.Contains(t, c.replies[0], "Dispatch cycle failed")
	})
}

func TestHandleExhausted(t *testing.T) {
	t.Run("default limit", func(t *testing.T) {
		s := new(mockStore)
		s.On("ListExhausted", mock.Anything, reminder.MaxAttempts, app.DefaultExhaustedLimit).
			Return([]reminder.Candidate{exhaustedCandidate()}, nil).Once()
		c := &fakeContext{sender: &telebot.User{ID: adminID}}

		require.NoError(t, newHandlers(new(mockDispatcher), s).HandleExhausted(c))
		require.Len(t, c.replies, 1)
		assert.Contains(t, c.replies[0], "Exhausted reminders (1)")
		assert.Contains(t, c.replies[0], "abebe@example.com")
		s.AssertExpectations(t)
	})

	t.Run("explicit limit", func(t *testing.T) {
		s := new(mockStore)
		s.On("ListExhausted", mock.Anything, reminder.MaxAttempts, 5).Return([]reminder.Candidate{}, nil).Once()
		c := &fakeContext{sender: &telebot.User{ID: adminID}, args: []string{"5"}}

		require.NoError(t, newHandlers(new(mockDispatcher), s).HandleExhausted(c))
		assert.Equal(t, []string{"No exhausted reminders."}, c.replies)
		s.AssertExpectations(t)
	})

	t.Run("bad limit", func(t *testing.T) {
		s := new(mockStore)
		c := &fakeContext{sender: &telebot.User{ID: adminID}, args: []string{"lots"}}

		require.NoError(t, newHandlers(new(mockDispatcher), s).HandleExhausted(c))
		require.Len(t, c.replies, 1)
		assert.Contains(t, c.replies[0], "Invalid command format")
		s.AssertNotCalled(t, "ListExhausted", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("non-admin is refused", func(t *testing.T) {
		s := new(mockStore)
		c := &fakeContext{sender: &telebot.User{ID: 99}}

		require.NoError(t, newHandlers(new(mockDispatcher), s).HandleExhausted(c))
		assert.Equal(t, []string{unauthorizedReply}, c.replies)
	})
}

func TestHandleHelp_NonAdmin(t *testing.T) {
	c := &fakeContext{sender: &telebot.User{ID: 7}}
	require.NoError(t, newHandlers(new(mockDispatcher), new(mockStore)).HandleHelp(c))
	assert.Equal(t, []string{"No commands are available to you."}, c.replies)
}
