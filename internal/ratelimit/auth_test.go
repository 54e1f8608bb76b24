package ratelimit

import (
	"testing"
	"time"
)

func TestAuthLimiterLocksAfterThreshold(t *testing.T) {
	limiter := NewAuthLimiter(2, 30*time.Second)

	if !limiter.Check("a").Allowed {
		t.Fatalf("expected initial check to be allowed")
	}
	limiter.RecordFailure("a")
	limiter.RecordFailure("a")
	if limiter.RecordFailure("a").Allowed {
		t.Fatalf("expected third failure within window to be locked out")
	}
}

func TestAuthLimiterResetClearsState(t *testing.T) {
	limiter := NewAuthLimiter(1, 30*time.Second)

	limiter.RecordFailure("b")
	if limiter.RecordFailure("b").Allowed {
		t.Fatalf("expected second failure to be locked out")
	}

	limiter.Reset("b")
	if !limiter.Check("b").Allowed {
		t.Fatalf("expected check to be allowed after reset")
	}
}

func TestAuthLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewAuthLimiter(1, 30*time.Second)

	limiter.RecordFailure("x")
	if !limiter.Check("y").Allowed {
		t.Fatalf("expected unrelated key to be unaffected")
	}
}
