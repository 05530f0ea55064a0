// Package orchestrator is the dispatch core: it routes chat requests to a
// registered provider and runs each call through the full pipeline of
// circuit breaker, rate limiter, middleware stack, and retry policy,
// emitting events along the way.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/featherdev/feather/internal/events"
	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/llm/breaker"
	"github.com/featherdev/feather/internal/llm/middleware"
	"github.com/featherdev/feather/internal/llm/ratelimit"
	"github.com/featherdev/feather/internal/llm/registry"
	"github.com/featherdev/feather/internal/llm/retry"
)

// DefaultTimeout applies when the caller's context carries no deadline.
const DefaultTimeout = 60 * time.Second

// Options configures a Dispatcher.
type Options struct {
	Strategy registry.Strategy
	// Timeout bounds each call when the incoming context has no deadline.
	Timeout time.Duration
	Retry   retry.Options
	// Middleware runs outside-in around the retry-wrapped provider call.
	Middleware []middleware.Middleware
	// Breaker applies per provider; Classify and OnStateChange are
	// installed by the dispatcher.
	Breaker breaker.Config
	// MapConcurrency bounds parallel Map calls. Defaults to 4.
	MapConcurrency int
}

// Dispatcher routes and executes chat calls.
type Dispatcher struct {
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	bus      *events.Bus
	opts     Options

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker
	cost     float64
}

// New creates a dispatcher. bus may be shared with the agent layer.
func New(reg *registry.Registry, limiter *ratelimit.Limiter, bus *events.Bus, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MapConcurrency <= 0 {
		opts.MapConcurrency = 4
	}
	// Only the attempt count is defaulted here; the other retry fields keep
	// whatever the caller set and default inside retry.Do.
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry.MaxAttempts = retry.DefaultOptions().MaxAttempts
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if limiter == nil {
		limiter = ratelimit.New(nil)
	}
	return &Dispatcher{
		registry: reg,
		limiter:  limiter,
		bus:      bus,
		opts:     opts,
		breakers: make(map[string]*breaker.Breaker),
	}
}

// Bus exposes the event bus for subscribing sinks and trackers.
func (d *Dispatcher) Bus() *events.Bus { return d.bus }

// TotalCostUSD reports the accumulated estimated spend across all calls.
func (d *Dispatcher) TotalCostUSD() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cost
}

type sessionKey struct{}

// WithSession tags a context with a session ID for event attribution.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom recovers the session ID, if any.
func SessionFrom(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKey{}).(string); ok {
		return v
	}
	return ""
}

// Chat validates, routes, and executes one chat call.
func (d *Dispatcher) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return llm.ChatResponse{}, err
	}
	match, err := d.registry.Choose(req.Model, d.opts.Strategy)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	return d.chatVia(ctx, match, req)
}

// Target addresses one call destination. An empty Provider routes the model
// through strategy selection; a set Provider pins the call to that entry,
// which matters when several providers serve the same model name.
type Target struct {
	Provider string
	Model    string
}

// ChatWith executes one chat call against a target, pinning the provider
// when the target names one.
func (d *Dispatcher) ChatWith(ctx context.Context, target Target, req llm.ChatRequest) (llm.ChatResponse, error) {
	if target.Model != "" {
		req.Model = target.Model
	}
	if target.Provider == "" {
		return d.Chat(ctx, req)
	}
	if err := req.Validate(); err != nil {
		return llm.ChatResponse{}, err
	}
	match, err := d.registry.Lookup(target.Provider, req.Model)
	if err != nil {
		return llm.ChatResponse{}, err
	}
	return d.chatVia(ctx, match, req)
}

func (d *Dispatcher) chatVia(ctx context.Context, match registry.Match, req llm.ChatRequest) (llm.ChatResponse, error) {
	provider := match.Entry.Key
	model := match.Model.Name
	session := SessionFrom(ctx)
	requestID := uuid.NewString()

	br := d.breakerFor(provider)
	if !br.CanPass() {
		err := &llm.CircuitOpenError{Provider: provider}
		d.bus.Emit(events.Event{Type: events.CallError, SessionID: session,
			RequestID: requestID, Provider: provider, Model: model, Err: err.Error()})
		return llm.ChatResponse{}, err
	}

	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
		defer cancel()
	}

	if err := d.limiter.Take(callCtx, ratelimit.CompositeKey(provider, model)); err != nil {
		return llm.ChatResponse{}, err
	}

	d.bus.Emit(events.Event{Type: events.CallStart, SessionID: session,
		RequestID: requestID, Provider: provider, Model: model})

	start := time.Now()
	mc := &middleware.CallContext{
		Ctx:       callCtx,
		Provider:  provider,
		Model:     model,
		RequestID: requestID,
		Start:     start,
		Request:   req,
	}

	retryOpts := d.opts.Retry
	retryOpts.OnRetry = func(a retry.Attempt) {
		d.bus.Emit(events.Event{Type: events.CallRetry, SessionID: session,
			RequestID: requestID, Provider: provider, Model: model,
			Attempt: a.Attempt, Err: a.Err.Error()})
	}

	providerCalled := false
	terminal := func(mc *middleware.CallContext) error {
		providerCalled = true
		resp, err := retry.Do(mc.Ctx, retryOpts, func(ctx context.Context) (llm.ChatResponse, error) {
			return match.Entry.Provider.Chat(ctx, mc.Request)
		})
		if err != nil {
			return err
		}
		mc.Response = &resp
		return nil
	}

	err := middleware.Run(d.opts.Middleware, mc, terminal)
	elapsed := time.Since(start)

	if err != nil {
		if providerCalled && !llm.IsAborted(err) {
			br.Fail(err)
		}
		if callCtx.Err() != nil && ctx.Err() == nil && !llm.IsAborted(err) {
			err = llm.Abort(err)
		}
		d.bus.Emit(events.Event{Type: events.CallError, SessionID: session,
			RequestID: requestID, Provider: provider, Model: model,
			Err: err.Error(), Duration: elapsed})
		return llm.ChatResponse{}, err
	}

	if mc.Response == nil {
		err := &llm.ContractError{Msg: "pipeline completed without a response"}
		d.bus.Emit(events.Event{Type: events.CallError, SessionID: session,
			RequestID: requestID, Provider: provider, Model: model, Err: err.Error()})
		return llm.ChatResponse{}, err
	}
	resp := *mc.Response

	if !providerCalled {
		// Served by a short-circuiting layer; no provider call to meter.
		d.bus.Emit(events.Event{Type: events.CallCacheHit, SessionID: session,
			RequestID: requestID, Provider: provider, Model: model, Duration: elapsed})
		return resp, nil
	}

	br.Success()
	resp.CostUSD = costOf(match.Model, resp.Usage)
	d.mu.Lock()
	d.cost += resp.CostUSD
	d.mu.Unlock()

	d.bus.Emit(events.Event{Type: events.CallSuccess, SessionID: session,
		RequestID: requestID, Provider: provider, Model: model,
		Usage: resp.Usage, CostUSD: resp.CostUSD, Duration: elapsed})
	return resp, nil
}

func (d *Dispatcher) breakerFor(provider string) *breaker.Breaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	br, ok := d.breakers[provider]
	if !ok {
		cfg := d.opts.Breaker
		cfg.Classify = func(err error) breaker.Class {
			if llm.HardFailure(err) || llm.IsAborted(err) {
				return breaker.Hard
			}
			return breaker.Soft
		}
		cfg.OnStateChange = func(from, to breaker.State) {
			var typ events.Type
			switch to {
			case breaker.Open:
				typ = events.BreakerOpen
			case breaker.HalfOpen:
				typ = events.BreakerHalfOpen
			default:
				typ = events.BreakerClose
			}
			d.bus.Emit(events.Event{Type: typ, Provider: provider,
				Fields: map[string]any{"from": from.String(), "to": to.String()}})
		}
		br = breaker.New(cfg)
		d.breakers[provider] = br
	}
	return br
}

func costOf(model llm.ModelSpec, usage llm.Usage) float64 {
	return float64(usage.Prompt)/1000*model.InputPer1K +
		float64(usage.Completion)/1000*model.OutputPer1K
}
