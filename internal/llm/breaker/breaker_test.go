package breaker

import (
	"errors"
	"testing"
	"time"
)

func softBreaker(threshold int, cooldown, window time.Duration) *Breaker {
	return New(Config{Threshold: threshold, Cooldown: cooldown, Window: window})
}

func TestOpensAtThreshold(t *testing.T) {
	b := softBreaker(3, time.Hour, time.Hour)
	err := errors.New("boom")

	b.Fail(err)
	b.Fail(err)
	if !b.CanPass() {
		t.Fatal("breaker opened below threshold")
	}
	b.Fail(err)
	if b.CanPass() {
		t.Fatal("breaker should be open after 3 soft failures")
	}
	if b.State() != Open {
		t.Fatalf("state = %v, want open", b.State())
	}
}

func TestHardFailuresIgnored(t *testing.T) {
	hard := errors.New("client error")
	b := New(Config{
		Threshold: 1,
		Cooldown:  time.Hour,
		Window:    time.Hour,
		Classify: func(err error) Class {
			if errors.Is(err, hard) {
				return Hard
			}
			return Soft
		},
	})

	for i := 0; i < 10; i++ {
		b.Fail(hard)
	}
	if !b.CanPass() {
		t.Fatal("hard failures must not trip the breaker")
	}
	b.Fail(errors.New("server error"))
	if b.CanPass() {
		t.Fatal("soft failure at threshold 1 should open")
	}
}

func TestHalfOpenProbeAndClose(t *testing.T) {
	b := softBreaker(1, 20*time.Millisecond, time.Hour)
	b.Fail(errors.New("boom"))
	if b.CanPass() {
		t.Fatal("should be open")
	}

	time.Sleep(25 * time.Millisecond)
	if !b.CanPass() {
		t.Fatal("cooldown elapsed, probe should be admitted")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}

	b.Success()
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed after probe success", b.State())
	}
	// Window was cleared: a single failure below threshold keeps it closed.
	b2 := softBreaker(2, 20*time.Millisecond, time.Hour)
	b2.Fail(errors.New("a"))
	b2.Fail(errors.New("b"))
	time.Sleep(25 * time.Millisecond)
	b2.CanPass()
	b2.Success()
	b2.Fail(errors.New("c"))
	if !b2.CanPass() {
		t.Fatal("window should have been cleared on close")
	}
}

func TestHalfOpenAdmitsUntilResolution(t *testing.T) {
	// Half-open is not gated to a single in-flight call: an admitted call
	// may abort before reaching the provider, so later callers must still
	// pass until a success or failure resolves the state.
	b := softBreaker(1, 20*time.Millisecond, time.Hour)
	b.Fail(errors.New("boom"))
	time.Sleep(25 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if !b.CanPass() {
			t.Fatalf("half-open must admit call %d", i)
		}
	}
	b.Success()
	if b.State() != Closed {
		t.Fatalf("state = %v, want closed", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := softBreaker(1, 20*time.Millisecond, time.Hour)
	b.Fail(errors.New("boom"))
	time.Sleep(25 * time.Millisecond)
	if !b.CanPass() {
		t.Fatal("probe should be admitted")
	}
	b.Fail(errors.New("probe failed"))
	if b.CanPass() {
		t.Fatal("failed probe must re-open with a fresh cooldown")
	}
}

func TestWindowPruning(t *testing.T) {
	b := softBreaker(3, time.Hour, 30*time.Millisecond)
	b.Fail(errors.New("a"))
	b.Fail(errors.New("b"))
	time.Sleep(40 * time.Millisecond)
	b.Fail(errors.New("c"))
	if !b.CanPass() {
		t.Fatal("stale failures outside the window must not count")
	}
}

func TestStateChangeNotifications(t *testing.T) {
	var changes []string
	b := New(Config{
		Threshold: 1,
		Cooldown:  10 * time.Millisecond,
		Window:    time.Hour,
		OnStateChange: func(from, to State) {
			changes = append(changes, from.String()+"->"+to.String())
		},
	})
	b.Fail(errors.New("boom"))
	time.Sleep(15 * time.Millisecond)
	b.CanPass()
	b.Success()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change %d = %q, want %q", i, changes[i], want[i])
		}
	}
}
