package quota

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCounterStore struct {
	counts map[string]int32
}

func newMemCounterStore() *memCounterStore {
	return &memCounterStore{counts: map[string]int32{}}
}

func key(scopeID, resource, windowKind string, windowStart int64) string {
	return fmt.Sprintf("%s/%s/%s/%d", scopeID, resource, windowKind, windowStart)
}

func (s *memCounterStore) GetUsageCount(_ context.Context, scopeID, resource, windowKind string, windowStart int64) (int32, error) {
	return s.counts[key(scopeID, resource, windowKind, windowStart)], nil
}

func (s *memCounterStore) IncrementUsageCounter(_ context.Context, scopeID, resource, windowKind string, windowStart int64) error {
	s.counts[key(scopeID, resource, windowKind, windowStart)]++
	return nil
}

func newTestLimiter(at time.Time) (*Limiter, *memCounterStore, *time.Time) {
	store := newMemCounterStore()
	now := at
	l := NewLimiter(store)
	l.now = func() time.Time { return now }
	return l, store, &now
}

func TestHourlyQuotaEnforcement(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 25, 0, 0, time.UTC)
	l, store, now := newTestLimiter(at)

	hourStart := at.Truncate(time.Hour)
	store.counts[key("room:r1", "message", "hour", hourStart.Unix())] = 100

	// Free tier allows 100 messages per hour; the 101st is refused.
	decision, err := l.CheckLimit(context.Background(), "room:r1", TierFree, ResourceMessage, WindowHour)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, int32(100), decision.CurrentUsage)
	assert.Equal(t, int32(100), decision.Limit)
	assert.Equal(t, hourStart.Add(time.Hour), decision.ResetTime)

	// After the window rolls over usage starts from zero again.
	*now = at.Add(time.Hour)
	decision, err = l.CheckLimit(context.Background(), "room:r1", TierFree, ResourceMessage, WindowHour)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int32(0), decision.CurrentUsage)
}

func TestIncrementWritesEachWindow(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 25, 0, 0, time.UTC)
	l, store, _ := newTestLimiter(at)

	require.NoError(t, l.Increment(context.Background(), "room:r1", ResourceMessage, WindowHour, WindowDay))

	hourStart := at.Truncate(time.Hour).Unix()
	dayStart := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC).Unix()
	assert.Equal(t, int32(1), store.counts[key("room:r1", "message", "hour", hourStart)])
	assert.Equal(t, int32(1), store.counts[key("room:r1", "message", "day", dayStart)])
}

func TestMessageAdmissionThreadCap(t *testing.T) {
	l, _, _ := newTestLimiter(time.Now())

	err := l.CheckMessageAdmission(context.Background(), "room:r1", TierFree, 200)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "thread", limitErr.Dimension)
	assert.Contains(t, limitErr.Error(), "start a new thread")
}

func TestMessageAdmissionRoomBudget(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 25, 0, 0, time.UTC)
	l, store, _ := newTestLimiter(at)
	store.counts[key("room:r1", "message", "hour", at.Truncate(time.Hour).Unix())] = 100

	err := l.CheckMessageAdmission(context.Background(), "room:r1", TierFree, 0)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "room-hour", limitErr.Dimension)
}

func TestResponseAdmissionReasoningUnavailableOnFree(t *testing.T) {
	l, _, _ := newTestLimiter(time.Now())

	require.NoError(t, l.CheckResponseAdmission(context.Background(), "room:r1", TierFree, false))

	err := l.CheckResponseAdmission(context.Background(), "room:r1", TierFree, true)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int32(0), limitErr.Decision.Limit)
}

func TestUnknownTierFallsBackToFree(t *testing.T) {
	assert.Equal(t, CapabilitiesFor(TierFree), CapabilitiesFor(Tier("enterprise")))
}

func TestThreadAdmissionConcurrentCap(t *testing.T) {
	l, _, _ := newTestLimiter(time.Now())

	// Free tier allows three concurrent threads per room.
	require.NoError(t, l.CheckThreadAdmission(TierFree, 2))

	err := l.CheckThreadAdmission(TierFree, 3)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "threads", limitErr.Dimension)
	assert.Equal(t, int32(3), limitErr.Decision.Limit)
	assert.Contains(t, limitErr.Error(), "thread limit")

	require.NoError(t, l.CheckThreadAdmission(TierPro, 99))
}
