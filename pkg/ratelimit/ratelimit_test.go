package ratelimit

import "testing"

func TestKeyed_AllowWithinBurst(t *testing.T) {
	k := NewKeyed(60, 2)

	if !k.Allow("a") {
		t.Error("first call should be allowed")
	}
	if !k.Allow("a") {
		t.Error("second call within burst should be allowed")
	}
	if k.Allow("a") {
		t.Error("third call should exceed burst")
	}
}

func TestKeyed_IndependentPerKey(t *testing.T) {
	k := NewKeyed(60, 1)

	if !k.Allow("a") {
		t.Fatal("expected first call for key a to be allowed")
	}
	if !k.Allow("b") {
		t.Fatal("expected first call for key b to be allowed independently of a")
	}
}

func TestKeyed_RetryAfterPositiveWhenExhausted(t *testing.T) {
	k := NewKeyed(60, 1)
	k.Allow("a")

	if d := k.RetryAfter("a"); d <= 0 {
		t.Errorf("expected positive retry-after once exhausted, got %v", d)
	}
}
