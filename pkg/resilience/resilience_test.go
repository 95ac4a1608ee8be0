package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnRateLimit(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	cb.OnError(errors.New("plain"))
	cb.OnError(errors.New("plain"))
	if !cb.Allow() {
		t.Fatalf("expected plain errors to be ignored")
	}
	cb.OnError(RateLimitError{Provider: "openai"})
	cb.OnError(RateLimitError{Provider: "openai"})
	if cb.Allow() {
		t.Fatalf("expected breaker to open")
	}
	now = now.Add(2 * time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker to close after cooldown")
	}
}

func TestCircuitBreakerCountAll(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Minute).CountAll()
	cb.OnError(errors.New("connect refused"))
	if cb.Allow() {
		t.Fatalf("expected breaker to open on any error")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("expected success to reset breaker")
	}
}

func TestRetryPolicyStopsAfterMaxRetries(t *testing.T) {
	calls := 0
	policy := NewRetryPolicy(2, time.Millisecond)
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("fail")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryPolicyReturnsOnSuccess(t *testing.T) {
	calls := 0
	policy := NewRetryPolicy(3, time.Millisecond)
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRetryPolicyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := NewRetryPolicy(3, time.Millisecond).Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls, got %d", calls)
	}
}
