package middleware

import (
	"testing"
	"time"
)

func TestRateLimiterEnforcesLimitPerKey(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(3, time.Minute)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		if !rl.Allow("a@bits-pilani.ac.in") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("a@bits-pilani.ac.in") {
		t.Fatal("fourth request should be throttled")
	}

	// Other identities are unaffected.
	if !rl.Allow("b@bits-pilani.ac.in") {
		t.Fatal("independent key should be allowed")
	}
}

func TestRateLimiterWindowSlides(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(1, 50*time.Millisecond)
	defer rl.Close()

	if !rl.Allow("a") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("a") {
		t.Fatal("second immediate request should be throttled")
	}

	time.Sleep(80 * time.Millisecond)
	if !rl.Allow("a") {
		t.Fatal("request after window should be allowed")
	}
}
