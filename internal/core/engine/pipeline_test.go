package engine

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPipeline(ticks, concurrent int) *Pipeline {
	return NewPipeline(PipelineConfig{
		TicksPerSecond: ticks,
		MaxConcurrent:  concurrent,
		RefillInterval: 5 * time.Millisecond,
	})
}

func TestRunAnnouncesCountThenEveryItem(t *testing.T) {
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}

	var results []Result[int, int]
	for result := range Map(context.Background(), fastPipeline(15, 10), items, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	}) {
		results = append(results, result)
	}

	require.Len(t, results, len(items)+1)
	require.True(t, results[0].IsAnnouncement())
	require.Equal(t, len(items), results[0].Count)

	positions := make([]int, 0, len(items))
	for i, result := range results[1:] {
		require.Equal(t, i, result.Index)
		require.Equal(t, len(items), result.Count)
		require.NoError(t, result.Err)
		require.Equal(t, result.Item.Payload*2, result.Value)
		require.Equal(t, 1, result.Attempts)
		positions = append(positions, result.Item.Position)
	}
	sort.Ints(positions)
	require.Equal(t, items, positions)
}

func TestRunEmptyBatch(t *testing.T) {
	var results []Result[string, string]
	for result := range Run[string, string](context.Background(), fastPipeline(1, 1), nil) {
		results = append(results, result)
	}

	require.Len(t, results, 1)
	require.True(t, results[0].IsAnnouncement())
	require.Zero(t, results[0].Count)
}

func TestRunRetriesOnce(t *testing.T) {
	var calls sync.Map

	flaky := func(_ context.Context, id string) (string, error) {
		n, _ := calls.LoadOrStore(id, new(atomic.Int32))
		if n.(*atomic.Int32).Add(1) == 1 {
			return "", errors.New("transient")
		}
		return "ok:" + id, nil
	}
	broken := func(_ context.Context, _ string) (string, error) {
		return "", errors.New("always down")
	}

	tasks := []Task[string, string]{
		{Item: "flaky", Run: flaky},
		{Item: "broken", Run: broken},
	}

	results := Collect(Run(context.Background(), fastPipeline(5, 2), tasks))
	require.Len(t, results, 2)

	byItem := map[string]Result[string, string]{}
	for _, result := range results {
		byItem[result.Item.Payload] = result
	}

	require.NoError(t, byItem["flaky"].Err)
	require.Equal(t, "ok:flaky", byItem["flaky"].Value)
	require.Equal(t, 2, byItem["flaky"].Attempts)

	require.True(t, byItem["broken"].Failed())
	require.EqualError(t, byItem["broken"].Err, "always down")
	require.Equal(t, 2, byItem["broken"].Attempts)
}

func TestRunRecoversPanics(t *testing.T) {
	results := Collect(Map(context.Background(), fastPipeline(5, 2), []int{1, 2}, func(_ context.Context, n int) (int, error) {
		if n == 1 {
			panic("boom")
		}
		return n, nil
	}))

	require.Len(t, results, 2)
	for _, result := range results {
		if result.Item.Payload == 1 {
			require.ErrorContains(t, result.Err, "boom")
			require.ErrorIs(t, result.Err, ErrPanicked)
			require.Equal(t, 2, result.Attempts)
			continue
		}
		require.NoError(t, result.Err)
	}
}

func TestRunMissingWorkFunc(t *testing.T) {
	results := Collect(Run(context.Background(), fastPipeline(5, 2), []Task[int, int]{{Item: 7}}))
	require.Len(t, results, 1)
	require.ErrorIs(t, results[0].Err, errNoWorkFunc)
}

func TestRunThroughputCap(t *testing.T) {
	p := NewPipeline(PipelineConfig{
		TicksPerSecond: 5,
		MaxConcurrent:  50,
		RefillInterval: 200 * time.Millisecond,
	})

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	items := make([]int, 12)
	begin := time.Now()
	results := Collect(Map(context.Background(), p, items, func(_ context.Context, n int) (int, error) {
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()
		return n, nil
	}))
	require.Len(t, results, len(items))

	// Only the pre-filled tickets can be spent before the first refill.
	early := 0
	for _, start := range starts {
		if start.Sub(begin) < 150*time.Millisecond {
			early++
		}
	}
	require.LessOrEqual(t, early, 5)
	require.GreaterOrEqual(t, time.Since(begin), 350*time.Millisecond)
}

func TestRunConcurrencyCap(t *testing.T) {
	var (
		current atomic.Int32
		peak    atomic.Int32
	)

	items := make([]int, 50)
	results := Collect(Map(context.Background(), fastPipeline(50, 3), items, func(_ context.Context, n int) (int, error) {
		now := current.Add(1)
		for {
			seen := peak.Load()
			if now <= seen || peak.CompareAndSwap(seen, now) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		current.Add(-1)
		return n, nil
	}))

	require.Len(t, results, len(items))
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Equal(t, int32(3), peak.Load())
}

func TestRunCancellationStopsNewStarts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var started atomic.Int32
	running := make(chan struct{}, 2)

	items := make([]int, 40)
	for i := range items {
		items[i] = i
	}
	seq := Map(ctx, fastPipeline(4, 2), items, func(ctx context.Context, n int) (int, error) {
		started.Add(1)
		running <- struct{}{}
		<-ctx.Done()
		return 0, ctx.Err()
	})

	go func() {
		<-running
		<-running
		cancel()
	}()

	var results []Result[int, int]
	for result := range seq {
		results = append(results, result)
	}

	require.Len(t, results, len(items)+1)
	require.Equal(t, int32(2), started.Load())
	for _, result := range results[1:] {
		require.ErrorIs(t, result.Err, context.Canceled)
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	results := Collect(Map(ctx, fastPipeline(5, 5), []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	}))

	require.Len(t, results, 3)
	require.Zero(t, calls.Load())
	for _, result := range results {
		require.ErrorIs(t, result.Err, context.Canceled)
		require.Zero(t, result.Attempts)
	}
}

func TestRunEarlyBreakWaitsForInFlight(t *testing.T) {
	var running atomic.Int32

	items := make([]int, 30)
	seq := Map(context.Background(), fastPipeline(30, 5), items, func(ctx context.Context, n int) (int, error) {
		running.Add(1)
		defer running.Add(-1)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(rand.Intn(5)) * time.Millisecond):
			return n, nil
		}
	})

	seen := 0
	for result := range seq {
		if result.IsAnnouncement() {
			continue
		}
		seen++
		if seen == 3 {
			break
		}
	}

	require.Equal(t, 3, seen)
	require.Zero(t, running.Load())
}

func TestRunRandomLatencyStress(t *testing.T) {
	for round := 0; round < 20; round++ {
		size := 1 + rand.Intn(60)
		items := make([]int, size)
		for i := range items {
			items[i] = i
		}

		p := fastPipeline(1+rand.Intn(20), 1+rand.Intn(8))
		results := Collect(Map(context.Background(), p, items, func(_ context.Context, n int) (int, error) {
			time.Sleep(time.Duration(rand.Intn(3000)) * time.Microsecond)
			if n%7 == 0 {
				return 0, errors.New("unlucky")
			}
			return n, nil
		}))

		require.Len(t, results, size, "round %d", round)
		positions := make([]int, 0, size)
		for i, result := range results {
			require.Equal(t, i, result.Index)
			positions = append(positions, result.Item.Position)
		}
		sort.Ints(positions)
		require.Equal(t, items, positions, "round %d", round)
	}
}

func TestWithRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, attempts, err := WithRetry(ctx, 2, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}
