package ratelimit

import "testing"

func TestKeyedLimiterEnforcesBurstPerKey(t *testing.T) {
	limiter := NewKeyedLimiter(0.0001, 2)

	if !limiter.Allow("client-a") || !limiter.Allow("client-a") {
		t.Fatal("expected burst allowance for first requests")
	}
	if limiter.Allow("client-a") {
		t.Fatal("expected third request to be throttled")
	}
}

func TestKeyedLimiterIsolatesKeys(t *testing.T) {
	limiter := NewKeyedLimiter(0.0001, 1)

	if !limiter.Allow("client-a") {
		t.Fatal("expected first request for client-a")
	}
	if limiter.Allow("client-a") {
		t.Fatal("expected client-a throttled")
	}
	if !limiter.Allow("client-b") {
		t.Fatal("throttling client-a must not affect client-b")
	}
}
