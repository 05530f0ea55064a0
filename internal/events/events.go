// Package events carries the runtime's observability stream: every provider
// call, breaker transition, and agent step emits an Event on a Bus that
// sinks and trackers subscribe to. Observers are best-effort and can never
// fail a call.
package events

import (
	"sync"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

// Type enumerates the emitted event kinds.
type Type string

const (
	CallStart    Type = "call.start"
	CallSuccess  Type = "call.success"
	CallError    Type = "call.error"
	CallRetry    Type = "call.retry"
	CallCacheHit Type = "call.cache_hit"

	BreakerOpen     Type = "breaker.open"
	BreakerHalfOpen Type = "breaker.half_open"
	BreakerClose    Type = "breaker.close"

	RunStart    Type = "agent.run.start"
	RunComplete Type = "agent.run.complete"
	RunError    Type = "agent.run.error"
	StepStart   Type = "agent.step.start"
	StepDone    Type = "agent.step.done"
	RunPlan     Type = "agent.plan"

	ToolStart    Type = "agent.tool.start"
	ToolEnd      Type = "agent.tool.end"
	ToolError    Type = "agent.tool.error"
	ToolBlocked  Type = "agent.tool.blocked"
	ToolCacheHit Type = "agent.tool.cache_hit"

	QuotaBlocked Type = "agent.quota.blocked"

	MemoryAppend    Type = "agent.memory.append"
	MemorySummarize Type = "agent.memory.summarize"
	MemoryTrim      Type = "agent.memory.trim"

	RunSummary Type = "agent.run.summary"
)

// Event is one observation. Fields beyond Type and Time are populated as
// relevant for the kind.
type Event struct {
	Type      Type           `json:"type"`
	Time      time.Time      `json:"time"`
	SessionID string         `json:"sessionId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Model     string         `json:"model,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Err       string         `json:"error,omitempty"`
	Usage     llm.Usage      `json:"usage,omitzero"`
	CostUSD   float64        `json:"costUsd,omitempty"`
	Duration  time.Duration  `json:"durationNs,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Observer receives events. Panics inside observers are swallowed.
type Observer func(Event)

// Bus fans events out to subscribed observers, synchronously and in
// subscription order.
type Bus struct {
	mu        sync.RWMutex
	observers map[int]Observer
	order     []int
	nextID    int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{observers: make(map[int]Observer)}
}

// Subscribe registers an observer and returns its unsubscribe function.
func (b *Bus) Subscribe(obs Observer) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.observers[id] = obs
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.observers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Emit stamps the event time if unset and delivers to every observer.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	obs := make([]Observer, 0, len(b.order))
	for _, id := range b.order {
		obs = append(obs, b.observers[id])
	}
	b.mu.RUnlock()

	for _, o := range obs {
		func() {
			defer func() { _ = recover() }()
			o(e)
		}()
	}
}
