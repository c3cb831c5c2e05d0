package backoff

import (
	"math"
	"time"

	"github.com/sethvargo/go-retry"
)

type Config struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

// Poll is the schedule used between status polls: Base, then growing by
// Factor up to Max, where it stays flat. With the defaults (1s base, 1.5
// factor, 10s cap) the delays are 1, 1.5, 2.25, 3.375, 5.0625, 7.59, 10,
// 10, ...
func Poll(max time.Duration) Config {
	return Config{Base: time.Second, Max: max, Factor: 1.5}
}

// Delay returns the wait before poll attempt+2, counting from attempt 0
// after the first request.
func (c Config) Delay(attempt int) time.Duration {
	base := c.Base
	factor := c.Factor
	if factor <= 0 {
		factor = 1.5
	}
	if attempt < 0 || base <= 0 {
		return 0
	}
	delay := float64(base) * math.Pow(factor, float64(attempt))
	if c.Max > 0 && delay > float64(c.Max) {
		return c.Max
	}
	if delay > float64(math.MaxInt64) {
		if c.Max > 0 {
			return c.Max
		}
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Backoff adapts the schedule to go-retry. The returned backoff never stops
// on its own; termination comes from the poll loop observing a terminal
// status or from context cancellation.
func (c Config) Backoff() retry.Backoff {
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay := c.Delay(attempt)
		attempt++
		return delay, false
	})
}
