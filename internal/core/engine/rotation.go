package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCooldown parks a throttled credential for ten minutes.
	DefaultCooldown = 10 * time.Minute
	// DefaultBackoff is the pause after a denied admission.
	DefaultBackoff = 10 * time.Millisecond
)

// RotationConfig configures a KeyRotationLimiter.
type RotationConfig struct {
	Budget   BudgetConfig
	Cooldown time.Duration
	Backoff  time.Duration
}

// CredentialStats describes one credential for diagnostics.
type CredentialStats struct {
	Credential    string
	Usage         BudgetUsage
	CooldownUntil *time.Time
}

type credentialSlot struct {
	credential    string
	tracker       *BudgetTracker
	cooldownUntil *time.Time
}

// KeyRotationLimiter spreads work across credentials in strict round-robin.
//
// Each credential has its own BudgetTracker. A credential is out of the
// rotation while a caller is attempting work with it and is re-enqueued after
// every attempt. Credentials whose work reported a ThrottleError sit out for
// the cooldown.
type KeyRotationLimiter struct {
	Clock func() time.Time
	// OnCooldown, when set, is called with the masked credential each time one is parked.
	OnCooldown func(credential string, until time.Time, cause error)

	cooldown time.Duration
	backoff  time.Duration

	mu    sync.Mutex
	queue []*credentialSlot
	slots []*credentialSlot
}

// NewKeyRotationLimiter builds a limiter for the given credentials.
// Blank and duplicate credentials are ignored.
func NewKeyRotationLimiter(credentials []string, config RotationConfig) *KeyRotationLimiter {
	l := &KeyRotationLimiter{
		cooldown: config.Cooldown,
		backoff:  config.Backoff,
	}
	if l.cooldown <= 0 {
		l.cooldown = DefaultCooldown
	}
	if l.backoff <= 0 {
		l.backoff = DefaultBackoff
	}

	seen := make(map[string]struct{}, len(credentials))
	for _, credential := range credentials {
		credential = strings.TrimSpace(credential)
		if credential == "" {
			continue
		}
		if _, ok := seen[credential]; ok {
			continue
		}
		seen[credential] = struct{}{}

		tracker := NewBudgetTracker(config.Budget)
		tracker.Clock = l.now
		slot := &credentialSlot{credential: credential, tracker: tracker}
		l.slots = append(l.slots, slot)
		l.queue = append(l.queue, slot)
	}

	return l
}

// Len returns the number of configured credentials.
func (l *KeyRotationLimiter) Len() int {
	if l == nil {
		return 0
	}
	return len(l.slots)
}

// WithRateLimiting runs work with the next credential that has budget left.
func WithRateLimiting[R any](ctx context.Context, l *KeyRotationLimiter, weight int, work func(ctx context.Context, credential string) (R, error)) (R, error) {
	var value R
	err := l.Do(ctx, weight, func(ctx context.Context, credential string) error {
		var workErr error
		value, workErr = work(ctx, credential)
		return workErr
	})
	return value, err
}

// Do runs work with the next credential that has budget left.
//
// Throttle signals are absorbed: the credential is parked and the work is tried
// again with the next credential. Every other error is returned as is.
func (l *KeyRotationLimiter) Do(ctx context.Context, weight int, work func(ctx context.Context, credential string) error) error {
	if l == nil || len(l.slots) == 0 {
		return ErrNoCredentials
	}
	if weight < 1 {
		return ErrInvalidWeight
	}
	if ctx == nil {
		ctx = context.Background()
	}

	skipped := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		slot := l.dequeue()
		if slot == nil {
			if err := sleepContext(ctx, l.backoff); err != nil {
				return err
			}
			continue
		}

		if l.coolingDown(slot) {
			l.enqueue(slot)
			skipped++
			if skipped >= len(l.slots) {
				skipped = 0
				if err := sleepContext(ctx, l.backoff); err != nil {
					return err
				}
			}
			continue
		}
		skipped = 0

		key := uuid.NewString()
		granted, err := slot.tracker.TryStart(key, weight)
		if err != nil {
			l.enqueue(slot)
			return err
		}
		if !granted {
			l.enqueue(slot)
			if err := sleepContext(ctx, l.backoff); err != nil {
				return err
			}
			continue
		}

		err = l.attempt(ctx, slot, key, work)
		if throttle, ok := IsThrottled(err); ok {
			until := l.park(slot, throttle.RetryAfter)
			l.enqueue(slot)
			if l.OnCooldown != nil {
				l.OnCooldown(MaskCredential(slot.credential), until, throttle)
			}
			continue
		}
		l.enqueue(slot)
		return err
	}
}

// Stats returns a snapshot per credential in configuration order.
// Credentials are masked to their last four characters.
func (l *KeyRotationLimiter) Stats() []CredentialStats {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stats := make([]CredentialStats, 0, len(l.slots))
	for _, slot := range l.slots {
		entry := CredentialStats{
			Credential: MaskCredential(slot.credential),
			Usage:      slot.tracker.Usage(),
		}
		if slot.cooldownUntil != nil && l.now().Before(*slot.cooldownUntil) {
			until := *slot.cooldownUntil
			entry.CooldownUntil = &until
		}
		stats = append(stats, entry)
	}
	return stats
}

// MaskCredential hides all but the last four characters of a credential.
func MaskCredential(credential string) string {
	if len(credential) <= 4 {
		return strings.Repeat("*", len(credential))
	}
	return strings.Repeat("*", len(credential)-4) + credential[len(credential)-4:]
}

func (l *KeyRotationLimiter) attempt(ctx context.Context, slot *credentialSlot, key string, work func(ctx context.Context, credential string) error) error {
	defer slot.tracker.End(key)
	return work(ctx, slot.credential)
}

func (l *KeyRotationLimiter) dequeue() *credentialSlot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil
	}
	slot := l.queue[0]
	l.queue = l.queue[1:]
	return slot
}

func (l *KeyRotationLimiter) enqueue(slot *credentialSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.queue = append(l.queue, slot)
}

func (l *KeyRotationLimiter) coolingDown(slot *credentialSlot) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if slot.cooldownUntil == nil {
		return false
	}
	if l.now().Before(*slot.cooldownUntil) {
		return true
	}
	slot.cooldownUntil = nil
	return false
}

func (l *KeyRotationLimiter) park(slot *credentialSlot, retryAfter time.Duration) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	pause := l.cooldown
	if retryAfter > pause {
		pause = retryAfter
	}
	until := l.now().Add(pause)
	slot.cooldownUntil = &until
	return until
}

func (l *KeyRotationLimiter) now() time.Time {
	if l != nil && l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
