// Package retry provides bounded-attempt retry policies with fixed, linear
// or capped-exponential backoff.
//
// All sleeping goes through the injected clock so callers can run
// deterministic, sleep-free tests.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/openemr-eks/teardown/internal/fault"
	"github.com/openemr-eks/teardown/internal/util/clock"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	// Fixed sleeps the initial delay between every attempt.
	Fixed Strategy = iota
	// Linear grows the delay by the initial delay each attempt.
	Linear
	// Exponential multiplies the delay each attempt, capped at Max.
	Exponential
)

// Backoff describes the delay schedule between attempts.
type Backoff struct {
	Strategy   Strategy
	Initial    time.Duration
	Max        time.Duration // cap; zero means uncapped
	Multiplier float64       // exponential growth factor; defaults to 2
	Jitter     float64       // fraction of the delay randomized, 0..1
}

// Delay returns the sleep before re-running attempt+1. attempt is 1-based:
// Delay(1) is the wait after the first failure.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Initial <= 0 {
		return 0
	}

	var d time.Duration
	switch b.Strategy {
	case Linear:
		d = time.Duration(attempt) * b.Initial
	case Exponential:
		m := b.Multiplier
		if m <= 1 {
			m = 2
		}
		f := float64(b.Initial)
		for i := 1; i < attempt; i++ {
			f *= m
			if b.Max > 0 && f >= float64(b.Max) {
				f = float64(b.Max)
				break
			}
		}
		d = time.Duration(f)
	default:
		d = b.Initial
	}

	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		// Spread the delay in [d*(1-j), d] to avoid thundering herds.
		d -= time.Duration(b.Jitter * rand.Float64() * float64(d))
	}
	return d
}

// Policy bounds the total attempts for one operation.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff
}

// DefaultPolicy matches the engine-wide defaults: five attempts with
// capped-exponential backoff starting at one second.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Backoff: Backoff{
			Strategy: Exponential,
			Initial:  time.Second,
			Max:      30 * time.Second,
		},
	}
}

// FixedPolicy retries up to attempts times with a constant interval. Used
// for poll-until-settled waits where the interval is configuration, not a
// growth schedule.
func FixedPolicy(attempts int, interval time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		Backoff:     Backoff{Strategy: Fixed, Initial: interval},
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// policy's attempts are exhausted. Only errors classified transient or
// invalid-state by the fault package are retried; everything else is
// returned to the caller untouched.
func Do(ctx context.Context, clk clock.Clock, p Policy, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !fault.IsRetryable(err) {
			return err
		}
		lastErr = err

		if attempt < attempts {
			if serr := clk.Sleep(ctx, p.Backoff.Delay(attempt)); serr != nil {
				return fmt.Errorf("cancelled after %d attempts: %w", attempt, serr)
			}
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
