package orchestrator

import (
	"context"
	"sync"

	"github.com/featherdev/feather/internal/llm"
)

// Fallback tries targets in order and returns the first success. Aborts stop
// the chain immediately; any other failure moves on to the next target. When
// every target fails the collected errors come back as one AggregateError.
func (d *Dispatcher) Fallback(ctx context.Context, targets []Target, req llm.ChatRequest) (llm.ChatResponse, error) {
	if len(targets) == 0 {
		return llm.ChatResponse{}, &llm.ContractError{Msg: "fallback requires at least one target"}
	}

	var errs []error
	for _, target := range targets {
		resp, err := d.ChatWith(ctx, target, req)
		if err == nil {
			return resp, nil
		}
		if llm.IsAborted(err) {
			return llm.ChatResponse{}, err
		}
		errs = append(errs, err)
	}
	return llm.ChatResponse{}, &llm.AggregateError{Errs: errs}
}

// Race runs the same request against every target concurrently and returns
// the first success, cancelling the losers. When every branch fails the
// collected errors come back as one AggregateError.
func (d *Dispatcher) Race(ctx context.Context, targets []Target, req llm.ChatRequest) (llm.ChatResponse, error) {
	if len(targets) == 0 {
		return llm.ChatResponse{}, &llm.ContractError{Msg: "race requires at least one target"}
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		idx  int
		resp llm.ChatResponse
		err  error
	}
	results := make(chan outcome, len(targets))

	for i, target := range targets {
		go func(idx int, t Target) {
			resp, err := d.ChatWith(raceCtx, t, req)
			results <- outcome{idx: idx, resp: resp, err: err}
		}(i, target)
	}

	errs := make([]error, len(targets))
	failed := 0
	for failed < len(targets) {
		select {
		case <-ctx.Done():
			return llm.ChatResponse{}, llm.Abort(ctx.Err())
		case out := <-results:
			if out.err == nil {
				cancel() // losers observe cancellation and unwind
				return out.resp, nil
			}
			errs[out.idx] = out.err
			failed++
		}
	}
	return llm.ChatResponse{}, &llm.AggregateError{Errs: errs}
}

// MapResult is one entry of a Map call, at its input's index.
type MapResult struct {
	Response llm.ChatResponse
	Err      error
}

// Map executes the requests with bounded concurrency and returns results in
// input order. Individual failures land in their slot without stopping the
// batch; a cancelled context aborts the remaining work.
func (d *Dispatcher) Map(ctx context.Context, reqs []llm.ChatRequest) []MapResult {
	results := make([]MapResult, len(reqs))
	sem := make(chan struct{}, d.opts.MapConcurrency)

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r llm.ChatRequest) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = MapResult{Err: llm.Abort(ctx.Err())}
				return
			}
			resp, err := d.Chat(ctx, r)
			results[idx] = MapResult{Response: resp, Err: err}
		}(i, req)
	}
	wg.Wait()
	return results
}
