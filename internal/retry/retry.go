// Package retry runs store operations with bounded exponential backoff.
// Only errors classified as transient are retried; business failures return
// on the first attempt.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/revaspay/referrals/internal/apperrors"
	"go.uber.org/zap"
)

// Policy defines how many attempts are made and how long to wait between them
type Policy struct {
	MaxAttempts    int           // Total attempts including the first one
	InitialBackoff time.Duration // Wait before the second attempt
	MaxBackoff     time.Duration // Upper bound for a single wait
	Multiplier     float64       // Backoff growth factor
	Jitter         float64       // Fraction of the wait randomised (0.2 = ±20%)
}

// DefaultPolicy returns the policy used for persistence and audit calls
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    4,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// Backoff calculates the wait before the given retry (1-based)
func (p Policy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	wait := float64(p.InitialBackoff) * math.Pow(multiplier, float64(retry-1))
	if p.MaxBackoff > 0 {
		wait = math.Min(wait, float64(p.MaxBackoff))
	}

	if p.Jitter > 0 {
		jitter := wait * p.Jitter
		wait = wait - jitter + (rand.Float64() * jitter * 2)
	}

	return time.Duration(wait)
}

// Do runs fn until it succeeds, returns a non-transient error, the context is
// done, or the policy is exhausted. Exhaustion is reported as
// apperrors.ErrServiceUnavailable wrapping the last error.
func Do(ctx context.Context, p Policy, log *zap.Logger, op string, fn func(ctx context.Context) error) error {
	if log == nil {
		log = zap.NewNop()
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !apperrors.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		log.Warn("transient failure, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}

	log.Error("retries exhausted", zap.String("op", op), zap.Int("attempts", attempts), zap.Error(err))
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrServiceUnavailable, err)
}
