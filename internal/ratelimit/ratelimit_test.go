package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllowConsumesBurst(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("client-a"); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRefillOverTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// 60/min = one token per second.
	now = now.Add(time.Second)
	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("after refill: %v", err)
	}
}

func TestClientsAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("client-a: %v", err)
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("client-a should be limited, got %v", err)
	}
	if err := l.Allow("client-b"); err != nil {
		t.Fatalf("client-b must have its own bucket: %v", err)
	}
}

func TestUnlimitedMode(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 0})
	for i := 0; i < 100; i++ {
		if err := l.Allow("client-a"); err != nil {
			t.Fatalf("unlimited mode must always allow: %v", err)
		}
	}
}

func TestStaleBucketsEvicted(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	if err := l.Allow("old-client"); err != nil {
		t.Fatalf("old client: %v", err)
	}

	now = now.Add(staleAfter + time.Minute)
	// Admitting a new client triggers eviction of the idle one.
	if err := l.Allow("new-client"); err != nil {
		t.Fatalf("new client: %v", err)
	}

	l.mu.Lock()
	_, exists := l.clients["old-client"]
	l.mu.Unlock()
	if exists {
		t.Fatal("idle bucket should have been evicted")
	}
}
