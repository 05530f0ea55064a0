package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/featherdev/feather/internal/events"
	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/llm/ratelimit"
)

// StreamChat routes a streaming call through the same breaker and limiter
// gates as Chat. Streams bypass retry and middleware: a partially consumed
// stream cannot be replayed. No default timeout applies; streams live as
// long as the caller's context.
func (d *Dispatcher) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, <-chan error) {
	chunkCh := make(chan llm.StreamChunk, 10)
	errCh := make(chan error, 1)

	fail := func(err error) (<-chan llm.StreamChunk, <-chan error) {
		close(chunkCh)
		errCh <- err
		close(errCh)
		return chunkCh, errCh
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}
	match, err := d.registry.Choose(req.Model, d.opts.Strategy)
	if err != nil {
		return fail(err)
	}
	streamer, ok := match.Entry.Provider.(llm.StreamProvider)
	if !ok {
		return fail(&llm.ContractError{Msg: "provider " + match.Entry.Key + " does not support streaming"})
	}

	provider := match.Entry.Key
	model := match.Model.Name
	session := SessionFrom(ctx)
	requestID := uuid.NewString()

	br := d.breakerFor(provider)
	if !br.CanPass() {
		return fail(&llm.CircuitOpenError{Provider: provider})
	}
	if err := d.limiter.Take(ctx, ratelimit.CompositeKey(provider, model)); err != nil {
		return fail(err)
	}

	d.bus.Emit(events.Event{Type: events.CallStart, SessionID: session,
		RequestID: requestID, Provider: provider, Model: model})
	start := time.Now()

	upstream, upstreamErr := streamer.Stream(ctx, req)

	go func() {
		defer close(chunkCh)
		defer close(errCh)

		for chunk := range upstream {
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
				errCh <- llm.Abort(ctx.Err())
				return
			}
		}

		err := <-upstreamErr
		elapsed := time.Since(start)
		if err != nil {
			if !llm.IsAborted(err) {
				br.Fail(err)
			}
			d.bus.Emit(events.Event{Type: events.CallError, SessionID: session,
				RequestID: requestID, Provider: provider, Model: model,
				Err: err.Error(), Duration: elapsed})
			errCh <- err
			return
		}
		br.Success()
		d.bus.Emit(events.Event{Type: events.CallSuccess, SessionID: session,
			RequestID: requestID, Provider: provider, Model: model, Duration: elapsed})
		errCh <- nil
	}()

	return chunkCh, errCh
}
