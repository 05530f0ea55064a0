// Package middleware implements the onion-model request pipeline the
// orchestrator runs around each provider call. Layers run pre-phases in
// registration order and post-phases in reverse.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

// CallContext carries one call through the pipeline. Layers may mutate the
// request before calling next and inspect or replace the response after.
type CallContext struct {
	Ctx       context.Context
	Provider  string
	Model     string
	RequestID string
	Start     time.Time
	Request   llm.ChatRequest
	Response  *llm.ChatResponse
}

// Middleware is one pipeline layer. It must call next exactly once, or skip
// it entirely to short-circuit (in which case the terminal never runs and
// the layer is expected to set ctx.Response itself).
type Middleware interface {
	Handle(mc *CallContext, next func() error) error
}

// Func adapts a plain function to the Middleware interface.
type Func func(mc *CallContext, next func() error) error

// Handle implements Middleware.
func (f Func) Handle(mc *CallContext, next func() error) error { return f(mc, next) }

// Finalizer is an optional hook on a layer: when the layer returns without
// ever calling next, Finally runs before the result propagates. Errors from
// Finally are swallowed.
type Finalizer interface {
	Finally(mc *CallContext, err error)
}

// ErrNextCalledTwice is returned when a layer invokes next more than once.
var ErrNextCalledTwice = errors.New("middleware called next more than once")

// Terminal is the innermost handler, typically the retry-wrapped provider
// call.
type Terminal func(mc *CallContext) error

// Run executes the stack around the terminal. For stack [A, B] the order is
// A-pre, B-pre, terminal, B-post, A-post.
func Run(stack []Middleware, mc *CallContext, terminal Terminal) error {
	return run(stack, 0, mc, terminal)
}

func run(stack []Middleware, i int, mc *CallContext, terminal Terminal) error {
	if i >= len(stack) {
		return terminal(mc)
	}

	layer := stack[i]
	called := 0
	next := func() error {
		called++
		if called > 1 {
			return ErrNextCalledTwice
		}
		return run(stack, i+1, mc, terminal)
	}

	err := layer.Handle(mc, next)
	if called == 0 {
		if f, ok := layer.(Finalizer); ok {
			func() {
				defer func() { _ = recover() }()
				f.Finally(mc, err)
			}()
		}
	}
	return err
}
