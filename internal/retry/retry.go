// Package retry provides the single retry policy applied to idempotent broker
// reads. Order placement never goes through this package.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/itaek/kw-trader/internal/errs"
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
}

// Reads is the default policy for price/chart/condition fetches.
func Reads() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 1 * time.Second, Factor: 2.0}
}

// Do runs op, retrying with exponential backoff while errs.IsRetryable(err)
// holds and attempts remain. Non-retryable errors abort immediately.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = p.Factor
	bo.RandomizationFactor = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !errs.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}
