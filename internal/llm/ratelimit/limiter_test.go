package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

func TestTryTakeUnknownKeyUnlimited(t *testing.T) {
	l := New(map[string]Limit{"known": {RPS: 1}})
	for i := 0; i < 100; i++ {
		if !l.TryTake("unknown:model") {
			t.Fatal("unknown key must be unlimited")
		}
	}
}

func TestTryTakeDrainsBurst(t *testing.T) {
	l := New(map[string]Limit{"p:m": {RPS: 1, Burst: 3}})
	for i := 0; i < 3; i++ {
		if !l.TryTake("p:m") {
			t.Fatalf("take %d should succeed within burst", i)
		}
	}
	if l.TryTake("p:m") {
		t.Fatal("bucket should be empty after burst")
	}
}

func TestTakeRefillsOverTime(t *testing.T) {
	l := New(map[string]Limit{"p:m": {RPS: 50, Burst: 1}})
	if !l.TryTake("p:m") {
		t.Fatal("first take should succeed")
	}
	start := time.Now()
	if err := l.Take(context.Background(), "p:m"); err != nil {
		t.Fatalf("Take: %v", err)
	}
	// 50 rps means roughly 20ms until the next token.
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Take returned after %v, expected a wait near 20ms", elapsed)
	}
}

func TestTakeFIFOOrder(t *testing.T) {
	l := New(map[string]Limit{"p:m": {RPS: 100, Burst: 1}})
	if !l.TryTake("p:m") {
		t.Fatal("drain burst")
	}

	const n = 5
	order := make([]int, 0, n)
	var mu sync.Mutex
	var wg sync.WaitGroup
	var launch sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		launch.Add(1)
		go func(i int) {
			defer wg.Done()
			// Stagger enqueue so arrival order is deterministic.
			time.Sleep(time.Duration(i) * 2 * time.Millisecond)
			launch.Done()
			if err := l.Take(context.Background(), "p:m"); err != nil {
				t.Errorf("Take %d: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Fatalf("waiters served out of order: %v", order)
		}
	}
}

func TestTakeCancelled(t *testing.T) {
	l := New(map[string]Limit{"p:m": {RPS: 0.1, Burst: 1}})
	if !l.TryTake("p:m") {
		t.Fatal("drain burst")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Take(ctx, "p:m")
	if !llm.IsAborted(err) {
		t.Fatalf("expected aborted error, got %v", err)
	}
}

func TestZeroRPSTreatedAsUnlimited(t *testing.T) {
	// A bucket that never refills would block every waiter forever, so a
	// non-positive RPS must not gate the key at all.
	l := New(map[string]Limit{"p:m": {RPS: 0}, "p:n": {RPS: -1, Burst: 5}})

	for i := 0; i < 10; i++ {
		if !l.TryTake("p:m") || !l.TryTake("p:n") {
			t.Fatal("zero-rate keys must be unlimited")
		}
	}

	done := make(chan error, 1)
	go func() { done <- l.Take(context.Background(), "p:m") }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Take blocked on a zero-rate key")
	}
}

func TestBurstDefaultsToRPS(t *testing.T) {
	l := New(map[string]Limit{"p:m": {RPS: 2}})
	if !l.TryTake("p:m") || !l.TryTake("p:m") {
		t.Fatal("burst should default to rps (2 tokens)")
	}
	if l.TryTake("p:m") {
		t.Fatal("third immediate take should fail")
	}
}
