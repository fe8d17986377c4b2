package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
)

// ErrStoreUnavailable indicates a counter or lockout backend failed or timed
// out. Availability checks fail closed: the caller must treat the request as
// over quota, never as allowed.
var ErrStoreUnavailable = errors.New("store unavailable")

// RateLimiter enforces fixed-window quotas. Windows are fixed buckets, not a
// sliding log: a client can burst up to 2x at a window boundary, which is
// acceptable for daily and hourly quotas and buys O(1) storage plus a single
// atomic upsert per request.
type RateLimiter struct {
	tiers        port.CounterStore
	ips          port.CounterStore
	logger       *zap.Logger
	storeTimeout time.Duration
	now          func() time.Time
}

// NewRateLimiter constructs a rate limiter over the two counter backends:
// tier quotas against the durable store, IP quotas against the hot-path store.
func NewRateLimiter(tiers, ips port.CounterStore, storeTimeout time.Duration, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if storeTimeout <= 0 {
		storeTimeout = 300 * time.Millisecond
	}

	limiter := &RateLimiter{
		tiers:        tiers,
		ips:          ips,
		logger:       logger,
		storeTimeout: storeTimeout,
	}
	limiter.now = func() time.Time { return time.Now().UTC() }
	return limiter
}

// WithClock overrides the limiter clock for deterministic tests.
func (l *RateLimiter) WithClock(clock func() time.Time) *RateLimiter {
	if clock != nil {
		l.now = clock
	}
	return l
}

// Check peeks at the current window without recording the request. Used to
// populate quota headers on responses that were admitted elsewhere.
func (l *RateLimiter) Check(ctx context.Context, subject string, class domain.EndpointClass, tier domain.Tier) (domain.RateDecision, error) {
	limit := domain.LimitFor(tier, class)
	if limit.Unlimited {
		return unlimitedDecision(), nil
	}

	now := l.now()
	windowStart := domain.WindowStart(now, limit.Window)

	count, err := l.peek(ctx, l.tiers, subject, class, windowStart)
	if err != nil {
		return deniedDecision(limit, windowStart), fmt.Errorf("peek counter: %w", errors.Join(ErrStoreUnavailable, err))
	}

	return decide(limit, windowStart, count), nil
}

// Reserve records the request and decides from the post-increment count. The
// increment is a single atomic insert-or-increment in the store, so two
// concurrent requests can never both squeeze past the limit on a stale read.
func (l *RateLimiter) Reserve(ctx context.Context, subject string, class domain.EndpointClass, tier domain.Tier) (domain.RateDecision, error) {
	return l.reserve(ctx, l.tiers, subject, class, domain.LimitFor(tier, class))
}

// ReserveIP records an unauthenticated request against the stricter IP table.
func (l *RateLimiter) ReserveIP(ctx context.Context, ip string, class domain.EndpointClass) (domain.RateDecision, error) {
	return l.reserve(ctx, l.ips, ip, class, domain.IPLimitFor(class))
}

// CheckIP peeks at the IP window without recording anything.
func (l *RateLimiter) CheckIP(ctx context.Context, ip string, class domain.EndpointClass) (domain.RateDecision, error) {
	limit := domain.IPLimitFor(class)
	if limit.Unlimited {
		return unlimitedDecision(), nil
	}

	now := l.now()
	windowStart := domain.WindowStart(now, limit.Window)

	count, err := l.peek(ctx, l.ips, ip, class, windowStart)
	if err != nil {
		return deniedDecision(limit, windowStart), fmt.Errorf("peek ip counter: %w", errors.Join(ErrStoreUnavailable, err))
	}

	return decide(limit, windowStart, count), nil
}

func (l *RateLimiter) reserve(ctx context.Context, store port.CounterStore, subject string, class domain.EndpointClass, limit domain.Limit) (domain.RateDecision, error) {
	if limit.Unlimited {
		return unlimitedDecision(), nil
	}

	now := l.now()
	windowStart := domain.WindowStart(now, limit.Window)

	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, err := store.Increment(storeCtx, subject, class, windowStart, limit.Window)
	if err != nil {
		l.logger.Warn("counter increment failed, failing closed",
			zap.String("endpoint", string(class)),
			zap.Error(err),
		)
		return deniedDecision(limit, windowStart), fmt.Errorf("increment counter: %w", errors.Join(ErrStoreUnavailable, err))
	}

	return reserveDecision(limit, windowStart, count), nil
}

func (l *RateLimiter) peek(ctx context.Context, store port.CounterStore, subject string, class domain.EndpointClass, windowStart time.Time) (int, error) {
	storeCtx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	return store.Peek(storeCtx, subject, class, windowStart)
}

// decide evaluates a peeked count: the request has not been recorded, so the
// window has room while count < limit.
func decide(limit domain.Limit, windowStart time.Time, count int) domain.RateDecision {
	remaining := limit.Count - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateDecision{
		Allowed:   count < limit.Count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(limit.Window),
	}
}

// reserveDecision evaluates a post-increment count: the request is already
// recorded, so it is within quota while count <= limit.
func reserveDecision(limit domain.Limit, windowStart time.Time, count int) domain.RateDecision {
	remaining := limit.Count - count
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateDecision{
		Allowed:   count <= limit.Count,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(limit.Window),
	}
}

func unlimitedDecision() domain.RateDecision {
	return domain.RateDecision{
		Allowed: true,
		Limit:   domain.NoLimit(),
	}
}

func deniedDecision(limit domain.Limit, windowStart time.Time) domain.RateDecision {
	return domain.RateDecision{
		Allowed: false,
		Limit:   limit,
		ResetAt: windowStart.Add(limit.Window),
	}
}
