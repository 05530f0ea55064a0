package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

func newCallContext() *CallContext {
	return &CallContext{
		Ctx:      context.Background(),
		Provider: "p",
		Model:    "m",
		Start:    time.Now(),
		Request:  llm.ChatRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}},
	}
}

func tracing(name string, log *[]string) Middleware {
	return Func(func(mc *CallContext, next func() error) error {
		*log = append(*log, name+"-pre")
		err := next()
		*log = append(*log, name+"-post")
		return err
	})
}

func TestOnionOrdering(t *testing.T) {
	var log []string
	stack := []Middleware{tracing("A", &log), tracing("B", &log)}

	err := Run(stack, newCallContext(), func(mc *CallContext) error {
		log = append(log, "terminal")
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"A-pre", "B-pre", "terminal", "B-post", "A-post"}
	if len(log) != len(want) {
		t.Fatalf("log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestShortCircuitSkipsTerminal(t *testing.T) {
	terminalRan := false
	short := Func(func(mc *CallContext, next func() error) error {
		mc.Response = &llm.ChatResponse{Content: "cached"}
		return nil // never calls next
	})

	mc := newCallContext()
	err := Run([]Middleware{short}, mc, func(mc *CallContext) error {
		terminalRan = true
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if terminalRan {
		t.Fatal("terminal must not run when a layer short-circuits")
	}
	if mc.Response == nil || mc.Response.Content != "cached" {
		t.Fatalf("response = %+v, want cached", mc.Response)
	}
}

type finalizing struct {
	finallyRan *bool
	callNext   bool
}

func (f finalizing) Handle(mc *CallContext, next func() error) error {
	if f.callNext {
		return next()
	}
	return errors.New("skipped")
}

func (f finalizing) Finally(mc *CallContext, err error) {
	*f.finallyRan = true
	panic("finalizer panics are swallowed")
}

func TestFinallyRunsWhenNextSkipped(t *testing.T) {
	ran := false
	err := Run([]Middleware{finalizing{finallyRan: &ran}}, newCallContext(), func(mc *CallContext) error {
		return nil
	})
	if err == nil || err.Error() != "skipped" {
		t.Fatalf("err = %v, want skipped", err)
	}
	if !ran {
		t.Fatal("Finally must run when next was never called")
	}
}

func TestFinallySkippedWhenNextCalled(t *testing.T) {
	ran := false
	err := Run([]Middleware{finalizing{finallyRan: &ran, callNext: true}}, newCallContext(), func(mc *CallContext) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if ran {
		t.Fatal("Finally must not run when the layer called next")
	}
}

func TestDoubleNextRejected(t *testing.T) {
	double := Func(func(mc *CallContext, next func() error) error {
		_ = next()
		return next()
	})
	err := Run([]Middleware{double}, newCallContext(), func(mc *CallContext) error {
		return nil
	})
	if !errors.Is(err, ErrNextCalledTwice) {
		t.Fatalf("err = %v, want ErrNextCalledTwice", err)
	}
}

func TestTerminalErrorPropagates(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	err := Run([]Middleware{tracing("A", &log)}, newCallContext(), func(mc *CallContext) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	// Post phase still observed the error path.
	if len(log) != 2 || log[1] != "A-post" {
		t.Fatalf("log = %v, want post phase to run", log)
	}
}
