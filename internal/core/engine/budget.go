package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultBudgetWindow    = time.Minute
	defaultBudgetTolerance = 5 * time.Second
	defaultBudgetDay       = 24 * time.Hour
)

var (
	// ErrInvalidWeight is returned when an operation asks for a weight below one.
	ErrInvalidWeight = errors.New("weight must be at least 1")

	// ErrDuplicateKey is returned when a key is reused while its record is still tracked.
	ErrDuplicateKey = errors.New("usage key already tracked")
)

// BudgetConfig describes the admission limits for one credential.
// A zero cap disables that dimension.
type BudgetConfig struct {
	MaxPerWindow int
	MaxPerDay    int
	Window       time.Duration
	Tolerance    time.Duration
	Day          time.Duration
}

func (c BudgetConfig) withDefaults() BudgetConfig {
	if c.Window <= 0 {
		c.Window = defaultBudgetWindow
	}
	if c.Tolerance <= 0 {
		c.Tolerance = defaultBudgetTolerance
	}
	if c.Day <= 0 {
		c.Day = defaultBudgetDay
	}
	return c
}

// BudgetUsage is a point-in-time view of a tracker.
type BudgetUsage struct {
	InFlight     int
	WindowWeight int
	DailyWeight  int
}

type usageRecord struct {
	start  time.Time
	end    *time.Time
	weight int
}

func (r *usageRecord) ended() bool {
	return r.end != nil
}

// BudgetTracker is a sliding-window admission controller for weighted operations.
//
// In-flight records and records that ended less than Window+Tolerance ago count
// toward MaxPerWindow. Every record that has not been purged counts toward
// MaxPerDay; ended records are purged once they started more than
// Day+Tolerance ago.
type BudgetTracker struct {
	Clock func() time.Time

	config  BudgetConfig
	mu      sync.Mutex
	records map[string]*usageRecord
}

// NewBudgetTracker returns a tracker for the given limits.
func NewBudgetTracker(config BudgetConfig) *BudgetTracker {
	return &BudgetTracker{
		config:  config.withDefaults(),
		records: make(map[string]*usageRecord),
	}
}

// Config returns the effective limits.
func (b *BudgetTracker) Config() BudgetConfig {
	if b == nil {
		return BudgetConfig{}.withDefaults()
	}
	return b.config
}

// TryStart admits a new in-flight operation identified by key when both caps allow it.
// A denied admission reports false with a nil error.
func (b *BudgetTracker) TryStart(key string, weight int) (bool, error) {
	if b == nil {
		return true, nil
	}
	if weight < 1 {
		return false, ErrInvalidWeight
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("usage key is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.purge(now)

	if _, exists := b.records[key]; exists {
		return false, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	usage := b.usage(now)
	if b.config.MaxPerWindow > 0 && usage.WindowWeight >= b.config.MaxPerWindow {
		return false, nil
	}
	if b.config.MaxPerDay > 0 && usage.DailyWeight >= b.config.MaxPerDay {
		return false, nil
	}

	b.records[key] = &usageRecord{start: now, weight: weight}
	return true, nil
}

// End marks the operation identified by key as finished.
// Unknown or already ended keys are ignored.
func (b *BudgetTracker) End(key string) {
	if b == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	record, ok := b.records[strings.TrimSpace(key)]
	if !ok || record.ended() {
		return
	}

	end := b.now()
	if end.Before(record.start) {
		end = record.start
	}
	record.end = &end
}

// Usage reports the weights the next TryStart would compare against the caps.
func (b *BudgetTracker) Usage() BudgetUsage {
	if b == nil {
		return BudgetUsage{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.purge(now)
	return b.usage(now)
}

func (b *BudgetTracker) purge(now time.Time) {
	retention := b.config.Day + b.config.Tolerance
	for key, record := range b.records {
		if record.ended() && now.Sub(record.start) > retention {
			delete(b.records, key)
		}
	}
}

func (b *BudgetTracker) usage(now time.Time) BudgetUsage {
	window := b.config.Window + b.config.Tolerance

	var usage BudgetUsage
	for _, record := range b.records {
		usage.DailyWeight += record.weight
		if !record.ended() {
			usage.InFlight++
			usage.WindowWeight += record.weight
			continue
		}
		if now.Sub(*record.end) < window {
			usage.WindowWeight += record.weight
		}
	}
	return usage
}

func (b *BudgetTracker) now() time.Time {
	if b != nil && b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}
