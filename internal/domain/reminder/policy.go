// internal/domain/reminder/policy.go
package reminder

import "time"

// MaxAttempts is the retry budget: a failed reminder with this many failures is no longer selected.
const MaxAttempts = 3

// Backoff is the ordered sequence of retry delays, indexed by the retry count after increment.
type Backoff []time.Duration

// DefaultBackoff is 15 min, 1 h, 6 h, 24 h.
var DefaultBackoff = Backoff{
	15 * time.Minute,
	60 * time.Minute,
	360 * time.Minute,
	1440 * time.Minute,
}

// Delay returns the delay for the given retry count.
// Counts past the end of the table use the last entry; negative counts use the first.
func (b Backoff) Delay(retryCount int) time.Duration {
	if len(b) == 0 {
		return 0
	}
	if retryCount < 0 {
		return b[0]
	}
	if retryCount >= len(b) {
		return b[len(b)-1]
	}
	return b[retryCount]
}

// LeadWindow is the half-open range (After, UpTo] of time-until-appointment
// in which a pending reminder of a kind is on time.
type LeadWindow struct {
	After time.Duration
	UpTo  time.Duration
}

// Contains reports whether until falls inside the window.
func (w LeadWindow) Contains(until time.Duration) bool {
	return until > w.After && until <= w.UpTo
}

// DefaultWindows maps each kind to its lead-time window.
var DefaultWindows = map[Kind]LeadWindow{
	KindLongLead:  {After: 2 * time.Hour, UpTo: 24 * time.Hour},
	KindShortLead: {After: 0, UpTo: 2 * time.Hour},
}

// Decision is the evaluator outcome for one candidate.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionDue
	DecisionRetry
)

func (d Decision) String() string {
	switch d {
	case DecisionDue:
		return "due"
	case DecisionRetry:
		return "retry"
	default:
		return "skip"
	}
}

// Policy bundles the timing rules of the engine: lead windows, backoff and retry budget.
type Policy struct {
	Windows     map[Kind]LeadWindow
	Backoff     Backoff
	MaxAttempts int
}

// DefaultPolicy returns the reference policy.
func DefaultPolicy() Policy {
	windows := make(map[Kind]LeadWindow, len(DefaultWindows))
	for k, w := range DefaultWindows {
		windows[k] = w
	}
	backoff := make(Backoff, len(DefaultBackoff))
	copy(backoff, DefaultBackoff)
	return Policy{
		Windows:     windows,
		Backoff:     backoff,
		MaxAttempts: MaxAttempts,
	}
}

// Evaluate decides whether a reminder is due now for an appointment starting at startsAt.
// A reminder inside its kind's window is due; otherwise a failed reminder (already selected
// as a retry candidate) is retried regardless of the window, since that window may have closed.
func (p Policy) Evaluate(r Reminder, startsAt, now time.Time) Decision {
	until := startsAt.Sub(now)
	if w, ok := p.Windows[r.Kind]; ok && w.Contains(until) {
		return DecisionDue
	}
	if r.Status == StatusFailed {
		return DecisionRetry
	}
	return DecisionSkip
}

// ScheduleRetry computes the bookkeeping for a delivery failure of r at now.
// The update is the same whether or not the budget is exhausted afterwards.
func (p Policy) ScheduleRetry(r Reminder, now time.Time, cause error) FailureUpdate {
	count := r.RetryCount + 1
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return FailureUpdate{
		RetryCount:  count,
		NextRetryAt: now.Add(p.Backoff.Delay(count)),
		LastError:   msg,
		FailedAt:    now,
	}
}

// Exhausted reports whether a reminder with retryCount failures is out of attempts.
func (p Policy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}
