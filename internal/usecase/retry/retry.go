package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"parity-league/internal/domain"
)

// Policy tunes the exponential backoff between attempts:
// delay = Base * Multiplier^attempt, MaxRetries retries after the first call.
type Policy struct {
	Base       time.Duration
	Multiplier float64
	MaxRetries int
}

// DefaultPolicy matches the protocol defaults: 2s/4s/8s over three retries.
var DefaultPolicy = Policy{Base: 2 * time.Second, Multiplier: 2, MaxRetries: 3}

// backOff builds the delay source. Jitter is disabled: the protocol specifies
// deterministic delays and the tests assert them exactly.
func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = 10 * time.Minute
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall time
	b.Reset()
	return b
}

// Caller runs operations under the retry policy.
type Caller struct {
	policy Policy
	clock  Clock
	logger *slog.Logger
}

// NewCaller creates a Caller. A nil clock selects the system clock.
func NewCaller(policy Policy, clock Clock, logger *slog.Logger) *Caller {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Caller{policy: policy, clock: clock, logger: logger}
}

// Do invokes fn, retrying transient transport failures with exponential
// backoff. Protocol violations and business rejections fail immediately:
// retrying a request the receiver has already judged invalid cannot succeed.
// The last error is returned once the retry budget is exhausted.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := c.policy.backOff()

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !domain.Retryable(err) {
			return err
		}
		if attempt >= c.policy.MaxRetries {
			break
		}

		delay := b.NextBackOff()
		c.logger.Warn("retrying after transient failure",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if serr := c.clock.Sleep(ctx, delay); serr != nil {
			return domain.WrapOp(op, serr)
		}
	}

	c.logger.Error("retry budget exhausted", "op", op, "retries", c.policy.MaxRetries, "error", err)
	return domain.WrapOp(op+": retries exhausted", err)
}
