package ratelimit

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestAcquireWSSession_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrentWSSessions: 1})
	now := time.Now()

	first := l.AcquireWSSession("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireWSSession("p1", now)
	if second.Allowed {
		t.Fatalf("second should be denied")
	}

	first.Permit.Release()
	third := l.AcquireWSSession("p1", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
}

func TestAcquireRequest_TokenBucketRefills(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Now()
	key := PrincipalKeyFromUser(uuid.New())

	for i := 0; i < 2; i++ {
		if d := l.AcquireRequest(key, now); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	d := l.AcquireRequest(key, now)
	if d.Allowed || d.RetryAfter != 1 {
		t.Fatalf("allowed=%v retry_after=%d, want denied with 1s", d.Allowed, d.RetryAfter)
	}
	if d := l.AcquireRequest(key, now.Add(1100*time.Millisecond)); !d.Allowed {
		t.Fatalf("expected refill after 1.1s")
	}
}

func TestAcquireRequest_PrincipalsAreIndependent(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 1})
	now := time.Now()
	if !l.AcquireRequest("a", now).Allowed {
		t.Fatalf("a denied")
	}
	if !l.AcquireRequest("b", now).Allowed {
		t.Fatalf("b denied by a's bucket")
	}
}

func TestPrincipalKeyFromIP_DoesNotLeakAddress(t *testing.T) {
	k := PrincipalKeyFromIP("203.0.113.9")
	if k == "" || k == "203.0.113.9" {
		t.Fatalf("key=%q", k)
	}
	if k != PrincipalKeyFromIP("203.0.113.9") {
		t.Fatalf("key not stable")
	}
}
