package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiter_AllowWithinWindow(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)
	key := KeyForLicense("ALICE-KEY")

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(context.Background(), key, 3, now)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("request %d unexpectedly blocked", i+1)
		}
		if result.Remaining != 3-i-1 {
			t.Fatalf("request %d remaining = %d", i+1, result.Remaining)
		}
	}

	result, err := limiter.Allow(context.Background(), key, 3, now)
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if result.Allowed {
		t.Fatalf("fourth request in window should be blocked")
	}
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)
	key := KeyForLicense("BOB-KEY")

	if result, _ := limiter.Allow(context.Background(), key, 1, now); !result.Allowed {
		t.Fatalf("first request blocked")
	}
	if result, _ := limiter.Allow(context.Background(), key, 1, now); result.Allowed {
		t.Fatalf("second request in same window allowed")
	}
	if result, _ := limiter.Allow(context.Background(), key, 1, now.Add(time.Second)); !result.Allowed {
		t.Fatalf("request in next window blocked")
	}
}

func TestMemoryLimiter_ZeroLimitDisables(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(context.Background(), KeyForLicense("CAROL-KEY"), 0, now)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !result.Allowed {
			t.Fatalf("zero limit should never block")
		}
	}
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter()
	now := time.Unix(1_700_000_000, 0)

	if result, _ := limiter.Allow(context.Background(), KeyForLicense("K1"), 1, now); !result.Allowed {
		t.Fatalf("first key blocked")
	}
	if result, _ := limiter.Allow(context.Background(), KeyForLicense("K2"), 1, now); !result.Allowed {
		t.Fatalf("second key blocked by first key's usage")
	}
}
