package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// CounterStore is the slice of the persistent store the limiter needs.
// Implementations must provide read-your-writes within a single process.
type CounterStore interface {
	GetUsageCount(ctx context.Context, scopeID string, resource string, windowKind string, windowStart int64) (int32, error)
	IncrementUsageCounter(ctx context.Context, scopeID string, resource string, windowKind string, windowStart int64) error
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed      bool
	CurrentUsage int32
	Limit        int32
	ResetTime    time.Time
}

// LimitError is a typed quota refusal naming the dimension that failed so
// the caller can surface the right remediation.
type LimitError struct {
	Dimension string // "room-hour", "room-day", "thread", "threads"
	Decision  Decision
}

func (e *LimitError) Error() string {
	switch e.Dimension {
	case "thread":
		return fmt.Sprintf("thread is full (%d/%d messages); start a new thread", e.Decision.CurrentUsage, e.Decision.Limit)
	case "threads":
		return fmt.Sprintf("room thread limit reached (%d/%d); delete a thread or upgrade", e.Decision.CurrentUsage, e.Decision.Limit)
	case "room-hour":
		return fmt.Sprintf("room hourly limit reached (%d/%d); resets at %s", e.Decision.CurrentUsage, e.Decision.Limit, e.Decision.ResetTime.UTC().Format(time.RFC3339))
	case "room-day":
		return fmt.Sprintf("room daily limit reached (%d/%d); resets at %s", e.Decision.CurrentUsage, e.Decision.Limit, e.Decision.ResetTime.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("quota exceeded on %s (%d/%d)", e.Dimension, e.Decision.CurrentUsage, e.Decision.Limit)
}

// windowBounds returns the UTC bucket containing now.
func windowBounds(window Window, now time.Time) (start, end time.Time) {
	now = now.UTC()
	switch window {
	case WindowHour:
		start = now.Truncate(time.Hour)
		return start, start.Add(time.Hour)
	case WindowDay:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.Add(24 * time.Hour)
	}
	return now, now
}

// Limiter evaluates and records usage against tier-derived limits.
//
// CheckLimit and Increment are intentionally separate calls: a caller checks
// once, performs the guarded operation, then increments the related windows
// together. Concurrent callers on the same scope can therefore both pass a
// check before either increments. This is a tolerated soft limit, not a
// hard admission guarantee.
type Limiter struct {
	store CounterStore
	now   func() time.Time
}

// NewLimiter creates a Limiter over the given counter store.
func NewLimiter(store CounterStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// CheckLimit compares current usage in the active window bucket against the
// tier limit without mutating state.
func (l *Limiter) CheckLimit(ctx context.Context, scopeID string, tier Tier, resource Resource, window Window) (Decision, error) {
	limit := CapabilitiesFor(tier).Limit(resource, window)
	start, end := windowBounds(window, l.now())

	count, err := l.store.GetUsageCount(ctx, scopeID, string(resource), string(window), start.Unix())
	if err != nil {
		return Decision{}, errors.Wrapf(err, "read usage counter %s/%s/%s", scopeID, resource, window)
	}
	return Decision{
		Allowed:      limit < 0 || count < limit,
		CurrentUsage: count,
		Limit:        limit,
		ResetTime:    end,
	}, nil
}

// Increment records one unit of usage in every given window bucket. Invoked
// only after the guarded operation succeeded.
func (l *Limiter) Increment(ctx context.Context, scopeID string, resource Resource, windows ...Window) error {
	now := l.now()
	for _, w := range windows {
		start, _ := windowBounds(w, now)
		if err := l.store.IncrementUsageCounter(ctx, scopeID, string(resource), string(w), start.Unix()); err != nil {
			return errors.Wrapf(err, "increment usage counter %s/%s/%s", scopeID, resource, w)
		}
	}
	return nil
}

// CheckMessageAdmission evaluates the room's rolling hourly and daily
// message budgets plus the thread's lifetime cap. All dimensions must pass;
// the returned *LimitError identifies the one that failed.
func (l *Limiter) CheckMessageAdmission(ctx context.Context, roomScope string, tier Tier, threadMessageCount int32) error {
	caps := CapabilitiesFor(tier)
	if caps.ThreadMessageCap >= 0 && threadMessageCount >= caps.ThreadMessageCap {
		return &LimitError{Dimension: "thread", Decision: Decision{
			CurrentUsage: threadMessageCount,
			Limit:        caps.ThreadMessageCap,
		}}
	}
	return l.checkRoomWindows(ctx, roomScope, tier, ResourceMessage)
}

// CheckThreadAdmission evaluates the room's concurrent-thread cap before a
// new thread is created.
func (l *Limiter) CheckThreadAdmission(tier Tier, threadCount int32) error {
	caps := CapabilitiesFor(tier)
	if caps.ConcurrentThreads >= 0 && threadCount >= int32(caps.ConcurrentThreads) {
		return &LimitError{Dimension: "threads", Decision: Decision{
			CurrentUsage: threadCount,
			Limit:        int32(caps.ConcurrentThreads),
		}}
	}
	return nil
}

// CheckResponseAdmission evaluates the room's AI-response budgets, and the
// reasoning budgets as well when the response will carry a reasoning phase.
func (l *Limiter) CheckResponseAdmission(ctx context.Context, roomScope string, tier Tier, reasoning bool) error {
	if err := l.checkRoomWindows(ctx, roomScope, tier, ResourceAIResponse); err != nil {
		return err
	}
	if reasoning {
		return l.checkRoomWindows(ctx, roomScope, tier, ResourceReasoning)
	}
	return nil
}

func (l *Limiter) checkRoomWindows(ctx context.Context, roomScope string, tier Tier, resource Resource) error {
	for _, w := range []Window{WindowHour, WindowDay} {
		decision, err := l.CheckLimit(ctx, roomScope, tier, resource, w)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return &LimitError{Dimension: "room-" + string(w), Decision: decision}
		}
	}
	return nil
}
