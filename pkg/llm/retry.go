package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"time"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

// RetryConfig controls Retry. A zero MaxAttempts means three attempts.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	Sleep       func(time.Duration)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// Retry calls fn until it succeeds, the error is not retryable, or the
// attempts run out. A retry whose backoff would outlast the context deadline
// is not attempted; the caller gets the last error instead.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) (Response, error)) (Response, error) {
	cfg = cfg.withDefaults()
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				break
			}
			return Response{}, err
		}
		resp, err := fn(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == cfg.MaxAttempts-1 || !cfg.IsRetryable(err) {
			break
		}
		delay := backoff(cfg, attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= delay {
			break
		}
		if cfg.Sleep != nil {
			cfg.Sleep(delay)
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Response{}, fmt.Errorf("llm retry: %w", lastErr)
		case <-timer.C:
		}
	}
	return Response{}, fmt.Errorf("llm retry: %w", lastErr)
}

// DefaultIsRetryable retries network and upstream failures. Cancellation,
// empty replies and rate limits are final.
func DefaultIsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errorsx.HasReason(err, errorsx.ReasonLLMEmpty):
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return true
	}
	// Rate limits are left to the circuit breaker.
	return !resilience.IsRateLimit(err)
}

func backoff(cfg RetryConfig, attempt int) time.Duration {
	d := cfg.BaseDelay << attempt
	if d <= 0 || d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter > 0 {
		d += time.Duration(float64(d) * cfg.Jitter * rand.Float64())
	}
	return d
}
