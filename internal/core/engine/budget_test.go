package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBudgetTrackerWindowCap(t *testing.T) {
	clock := newFakeClock()
	tracker := NewBudgetTracker(BudgetConfig{MaxPerWindow: 4, MaxPerDay: 500})
	tracker.Clock = clock.Now

	for i := 0; i < 4; i++ {
		granted, err := tracker.TryStart(fmt.Sprintf("op-%d", i), 1)
		require.NoError(t, err)
		require.True(t, granted)
	}

	granted, err := tracker.TryStart("op-4", 1)
	require.NoError(t, err)
	require.False(t, granted)

	for i := 0; i < 4; i++ {
		tracker.End(fmt.Sprintf("op-%d", i))
	}

	// Ended records still count until window + tolerance has passed.
	granted, err = tracker.TryStart("op-4", 1)
	require.NoError(t, err)
	require.False(t, granted)

	clock.Advance(time.Minute + 5*time.Second)

	granted, err = tracker.TryStart("op-4", 1)
	require.NoError(t, err)
	require.True(t, granted)
}

func TestBudgetTrackerConcurrentAdmission(t *testing.T) {
	tracker := NewBudgetTracker(BudgetConfig{MaxPerWindow: 4})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := tracker.TryStart(fmt.Sprintf("op-%d", i), 1)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 4, granted)
	require.Equal(t, 4, tracker.Usage().InFlight)
}

func TestBudgetTrackerDailyCap(t *testing.T) {
	clock := newFakeClock()
	tracker := NewBudgetTracker(BudgetConfig{MaxPerWindow: 10, MaxPerDay: 3})
	tracker.Clock = clock.Now

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("op-%d", i)
		granted, err := tracker.TryStart(key, 1)
		require.NoError(t, err)
		require.True(t, granted)
		tracker.End(key)
		clock.Advance(2 * time.Minute)
	}

	usage := tracker.Usage()
	require.Equal(t, 0, usage.WindowWeight)
	require.Equal(t, 3, usage.DailyWeight)

	granted, err := tracker.TryStart("op-3", 1)
	require.NoError(t, err)
	require.False(t, granted)

	clock.Advance(24 * time.Hour)

	granted, err = tracker.TryStart("op-3", 1)
	require.NoError(t, err)
	require.True(t, granted)
	require.Equal(t, 1, tracker.Usage().DailyWeight)
}

func TestBudgetTrackerWeights(t *testing.T) {
	tracker := NewBudgetTracker(BudgetConfig{MaxPerWindow: 5})

	granted, err := tracker.TryStart("heavy", 4)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = tracker.TryStart("light", 1)
	require.NoError(t, err)
	require.True(t, granted)

	granted, err = tracker.TryStart("one-more", 1)
	require.NoError(t, err)
	require.False(t, granted)
	require.Equal(t, 5, tracker.Usage().WindowWeight)
}

func TestBudgetTrackerInFlightNeverExpires(t *testing.T) {
	clock := newFakeClock()
	tracker := NewBudgetTracker(BudgetConfig{MaxPerWindow: 1})
	tracker.Clock = clock.Now

	granted, err := tracker.TryStart("slow", 1)
	require.NoError(t, err)
	require.True(t, granted)

	clock.Advance(48 * time.Hour)

	granted, err = tracker.TryStart("next", 1)
	require.NoError(t, err)
	require.False(t, granted)

	tracker.End("slow")
	clock.Advance(time.Minute + 5*time.Second)

	granted, err = tracker.TryStart("next", 1)
	require.NoError(t, err)
	require.True(t, granted)
}

func TestBudgetTrackerEndIsIdempotent(t *testing.T) {
	tracker := NewBudgetTracker(BudgetConfig{MaxPerWindow: 2})

	tracker.End("unknown")

	granted, err := tracker.TryStart("op", 1)
	require.NoError(t, err)
	require.True(t, granted)

	tracker.End("op")
	tracker.End("op")
	require.Equal(t, 0, tracker.Usage().InFlight)
}

func TestBudgetTrackerRejectsBadInput(t *testing.T) {
	tracker := NewBudgetTracker(BudgetConfig{})

	_, err := tracker.TryStart("op", 0)
	require.ErrorIs(t, err, ErrInvalidWeight)

	_, err = tracker.TryStart("  ", 1)
	require.Error(t, err)

	granted, err := tracker.TryStart("op", 1)
	require.NoError(t, err)
	require.True(t, granted)

	_, err = tracker.TryStart("op", 1)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestBudgetConfigDefaults(t *testing.T) {
	cfg := NewBudgetTracker(BudgetConfig{MaxPerWindow: 4}).Config()
	require.Equal(t, time.Minute, cfg.Window)
	require.Equal(t, 5*time.Second, cfg.Tolerance)
	require.Equal(t, 24*time.Hour, cfg.Day)
}
