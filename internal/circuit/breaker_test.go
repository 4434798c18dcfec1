package circuit

import (
	"testing"
	"time"
)

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 3, FailureWindow: time.Minute, MaxFailuresInWindow: 100, CooldownDuration: time.Millisecond})

	var tripped bool
	b.OnTrip(func(reason string) { tripped = true })

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}

	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	time.Sleep(10 * time.Millisecond) // allow async OnTrip to fire
	if !tripped {
		t.Fatal("expected onTrip callback to fire")
	}
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	b := New(Config{MaxConsecutiveFailures: 1, FailureWindow: time.Minute, MaxFailuresInWindow: 100, CooldownDuration: 5 * time.Millisecond})
	b.RecordFailure()

	if allow, _ := b.Allow(); allow {
		t.Fatal("expected breaker to deny immediately after trip")
	}

	time.Sleep(10 * time.Millisecond)

	allow, _ := b.Allow()
	if !allow {
		t.Fatal("expected breaker to allow a probe after cooldown")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed after success in half-open", b.State())
	}
}
