package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"
)

const (
	// DefaultTicksPerSecond matches a 900 requests/minute registry budget.
	DefaultTicksPerSecond = 15
	// DefaultMaxConcurrent bounds simultaneous in-flight units.
	DefaultMaxConcurrent = 10
	// DefaultAttempts is the first try plus one retry.
	DefaultAttempts = 2
)

var errNoWorkFunc = errors.New("task has no work function")

// PipelineConfig controls dispatch throughput and concurrency.
type PipelineConfig struct {
	// TicksPerSecond is the number of dispatch starts allowed per refill interval.
	TicksPerSecond int
	// MaxConcurrent is the number of units allowed in flight at once.
	MaxConcurrent int
	// RefillInterval defaults to one second.
	RefillInterval time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.TicksPerSecond <= 0 {
		c.TicksPerSecond = DefaultTicksPerSecond
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	return c
}

// WorkFunc performs one unit of remote work for an item.
type WorkFunc[T, R any] func(ctx context.Context, item T) (R, error)

// WorkItem is a caller payload with its position in the submitted list.
type WorkItem[T any] struct {
	Position int
	Payload  T
}

// Task pairs an item with the function that processes it.
type Task[T, R any] struct {
	Item T
	Run  WorkFunc[T, R]
}

// Result is one element of a pipeline stream.
//
// The first element of every stream is an announcement with Index -1 that only
// carries Count. Every following element is the terminal outcome of one item;
// Index is its completion rank, not its input position.
type Result[T, R any] struct {
	Index    int
	Count    int
	Item     WorkItem[T]
	Value    R
	Err      error
	Attempts int
}

// IsAnnouncement reports whether the result is the leading count-only element.
func (r Result[T, R]) IsAnnouncement() bool {
	return r.Index < 0
}

// Failed reports whether the item ended with an error.
func (r Result[T, R]) Failed() bool {
	return !r.IsAnnouncement() && r.Err != nil
}

// Pipeline dispatches units of work under a throughput cap and a concurrency cap.
// A Pipeline holds only configuration; every Run owns its own tickets and slots.
type Pipeline struct {
	config PipelineConfig
}

// NewPipeline builds a pipeline, applying defaults for unset limits.
func NewPipeline(config PipelineConfig) *Pipeline {
	return &Pipeline{config: config.withDefaults()}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() PipelineConfig {
	if p == nil {
		return PipelineConfig{}.withDefaults()
	}
	return p.config
}

// Map runs fn for every item.
func Map[T, R any](ctx context.Context, p *Pipeline, items []T, fn WorkFunc[T, R]) iter.Seq[Result[T, R]] {
	tasks := make([]Task[T, R], len(items))
	for i, item := range items {
		tasks[i] = Task[T, R]{Item: item, Run: fn}
	}
	return Run(ctx, p, tasks)
}

// Run returns a single-use stream of len(tasks)+1 results.
//
// Work starts when iteration starts. Stopping the iteration early cancels the
// batch and waits for in-flight units before returning. When ctx is cancelled,
// no further units start; items that never started are reported with the
// context error and results already produced are still delivered.
func Run[T, R any](ctx context.Context, p *Pipeline, tasks []Task[T, R]) iter.Seq[Result[T, R]] {
	config := p.Config()
	if ctx == nil {
		ctx = context.Background()
	}

	return func(yield func(Result[T, R]) bool) {
		runCtx, cancel := context.WithCancel(ctx)

		b := newBatch(runCtx, config, tasks)
		stop := make(chan struct{})
		defer func() {
			close(stop)
			cancel()
			b.wg.Wait()
		}()

		if !yield(Result[T, R]{Index: -1, Count: len(tasks)}) {
			return
		}

		go b.refill(stop, config)
		b.loop(yield)
	}
}

// Collect drains a stream and returns the item outcomes in completion order.
func Collect[T, R any](seq iter.Seq[Result[T, R]]) []Result[T, R] {
	results := make([]Result[T, R], 0)
	for result := range seq {
		if result.IsAnnouncement() {
			continue
		}
		results = append(results, result)
	}
	return results
}

// WithRetry calls fn until it succeeds or attempts are exhausted.
// It stops early once ctx is done. The number of calls made is returned.
func WithRetry[R any](ctx context.Context, attempts int, fn func(ctx context.Context) (R, error)) (R, int, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		value R
		err   error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		value, err = callSafely(ctx, fn)
		if err == nil {
			return value, attempt, nil
		}
		if ctx.Err() != nil {
			return value, attempt, err
		}
	}
	return value, attempts, err
}

func callSafely[R any](ctx context.Context, fn func(ctx context.Context) (R, error)) (value R, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, recovered)
		}
	}()
	return fn(ctx)
}

type pendingTask[T, R any] struct {
	position int
	task     Task[T, R]
}

type batch[T, R any] struct {
	ctx   context.Context
	count int

	mu       sync.Mutex
	pending  []pendingTask[T, R]
	buffer   []Result[T, R]
	inFlight int

	tickets chan struct{}
	slots   chan struct{}
	wake    chan struct{}
	wg      sync.WaitGroup
}

func newBatch[T, R any](ctx context.Context, config PipelineConfig, tasks []Task[T, R]) *batch[T, R] {
	b := &batch[T, R]{
		ctx:     ctx,
		count:   len(tasks),
		pending: make([]pendingTask[T, R], len(tasks)),
		tickets: make(chan struct{}, config.TicksPerSecond),
		slots:   make(chan struct{}, config.MaxConcurrent),
		wake:    make(chan struct{}, 1),
	}
	for i, task := range tasks {
		b.pending[i] = pendingTask[T, R]{position: i, task: task}
	}
	for i := 0; i < config.TicksPerSecond; i++ {
		b.tickets <- struct{}{}
	}
	return b
}

func (b *batch[T, R]) loop(yield func(Result[T, R]) bool) {
	index := 0
	haveTicket := false

	for {
		for _, result := range b.takeBuffered() {
			result.Index = index
			index++
			if !yield(result) {
				return
			}
		}

		finished, hasPending := b.state()
		if finished {
			return
		}

		if b.ctx.Err() != nil {
			if hasPending {
				b.abandonPending(b.ctx.Err())
				continue
			}
			<-b.wake
			continue
		}

		if !hasPending {
			select {
			case <-b.wake:
			case <-b.ctx.Done():
			}
			continue
		}

		if !haveTicket {
			select {
			case <-b.tickets:
				haveTicket = true
			case <-b.wake:
				continue
			case <-b.ctx.Done():
				continue
			}
		}

		select {
		case b.slots <- struct{}{}:
		case <-b.wake:
			continue
		case <-b.ctx.Done():
			continue
		}

		if b.ctx.Err() != nil {
			<-b.slots
			continue
		}

		haveTicket = false
		b.dispatch()
	}
}

// state reports the termination condition and whether work is still queued.
// The three parts are read under one lock so out-of-order completions cannot
// end the stream early.
func (b *batch[T, R]) state() (finished bool, hasPending bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hasPending = len(b.pending) > 0
	finished = !hasPending && len(b.buffer) == 0 && b.inFlight == 0
	return finished, hasPending
}

func (b *batch[T, R]) takeBuffered() []Result[T, R] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buffer) == 0 {
		return nil
	}
	results := b.buffer
	b.buffer = nil
	return results
}

func (b *batch[T, R]) abandonPending(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, item := range b.pending {
		b.buffer = append(b.buffer, Result[T, R]{
			Count: b.count,
			Item:  WorkItem[T]{Position: item.position, Payload: item.task.Item},
			Err:   cause,
		})
	}
	b.pending = nil
}

func (b *batch[T, R]) dispatch() {
	b.mu.Lock()
	next := b.pending[0]
	b.pending = b.pending[1:]
	b.inFlight++
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		result := Result[T, R]{
			Count: b.count,
			Item:  WorkItem[T]{Position: next.position, Payload: next.task.Item},
		}
		if next.task.Run == nil {
			result.Err = errNoWorkFunc
		} else {
			result.Value, result.Attempts, result.Err = WithRetry(b.ctx, DefaultAttempts, func(ctx context.Context) (R, error) {
				return next.task.Run(ctx, next.task.Item)
			})
		}

		b.mu.Lock()
		b.inFlight--
		b.buffer = append(b.buffer, result)
		b.mu.Unlock()

		<-b.slots
		b.signal()
	}()
}

func (b *batch[T, R]) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// refill tops the ticket pool back up to its capacity once per interval.
// Unused tickets do not accumulate beyond the cap.
func (b *batch[T, R]) refill(stop <-chan struct{}, config PipelineConfig) {
	ticker := time.NewTicker(config.RefillInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.topUp(config.TicksPerSecond)
		}
	}
}

func (b *batch[T, R]) topUp(n int) {
	for i := 0; i < n; i++ {
		select {
		case b.tickets <- struct{}{}:
		default:
			return
		}
	}
}
