package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.retry); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.retry, got, tt.want)
		}
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Backoff: 2}

	t.Run("retries transient errors until success", func(t *testing.T) {
		calls := 0
		attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return NewNetworkError("submit", errors.New("timeout"))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Expected success, got %v", err)
		}
		if attempts != 3 {
			t.Errorf("Expected 3 attempts, got %d", attempts)
		}
	})

	t.Run("stops on non-retriable error", func(t *testing.T) {
		calls := 0
		_, err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return &APIError{Status: 400, Name: "invalid_parameter"}
		})
		if err == nil {
			t.Fatal("Expected error")
		}
		if calls != 1 {
			t.Errorf("Expected 1 call, got %d", calls)
		}
	})

	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		attempts, err := p.Do(context.Background(), func(ctx context.Context) error {
			calls++
			return NewNetworkError("submit", errors.New("reset"))
		})
		if err == nil || !IsRetriable(err) {
			t.Fatalf("Expected last retriable error, got %v", err)
		}
		if calls != 3 || attempts != 3 {
			t.Errorf("Expected 3 calls, got %d (attempts %d)", calls, attempts)
		}
	})

	t.Run("context cancel interrupts backoff", func(t *testing.T) {
		slow := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Hour, Backoff: 2}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := slow.Do(ctx, func(ctx context.Context) error {
			return NewNetworkError("submit", errors.New("timeout"))
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	})
}
