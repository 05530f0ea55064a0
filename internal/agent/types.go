// Package agent drives the bounded plan-act-observe loop: a planner decides
// the next actions, tools execute them under policy, quota, and cache
// guards, and every turn lands in session memory until the planner produces
// a final assistant message.
package agent

import (
	"context"
	"time"

	"github.com/featherdev/feather/internal/llm"
)

// Action is one tool invocation requested by the planner.
type Action struct {
	Tool  string         `json:"tool"`
	Input map[string]any `json:"input"`
}

// Plan is a planner result: either a batch of actions or a final message,
// never both.
type Plan struct {
	Actions []Action     `json:"actions,omitempty"`
	Final   *llm.Message `json:"final,omitempty"`
}

// PlannerContext is the read-only view handed to the planner each
// iteration.
type PlannerContext struct {
	SessionID string
	Input     string
	Context   []llm.Message
	Metadata  map[string]string
	Iteration int
}

// Planner decides the next step of a run.
type Planner interface {
	Plan(ctx context.Context, pc PlannerContext) (Plan, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, pc PlannerContext) (Plan, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, pc PlannerContext) (Plan, error) {
	return f(ctx, pc)
}

// Tool is an executable capability exposed to the planner.
type Tool interface {
	Name() string
	Description() string
	// Schema returns a JSON Schema for the input, or "" for unchecked.
	Schema() string
	// CacheTTL > 0 opts the tool into result caching.
	CacheTTL() time.Duration
	Run(ctx context.Context, input map[string]any, metadata map[string]string) (any, error)
}

// ToolResult records one executed action.
type ToolResult struct {
	Tool     string        `json:"tool"`
	Result   any           `json:"result"`
	Cached   bool          `json:"cached"`
	Duration time.Duration `json:"durationNs"`
}

// StepTrace records one loop iteration.
type StepTrace struct {
	Iteration int           `json:"iteration"`
	Plan      Plan          `json:"plan"`
	Results   []ToolResult  `json:"results,omitempty"`
	Duration  time.Duration `json:"durationNs"`
}

// RunResult is the outcome of a run: Output on success, Err on failure,
// with the executed steps either way.
type RunResult struct {
	Output     llm.Message   `json:"output"`
	Steps      []StepTrace   `json:"steps"`
	Iterations int           `json:"iterations"`
	Elapsed    time.Duration `json:"elapsedNs"`
	Err        *Error        `json:"error,omitempty"`
}

// Completed reports whether the run produced a final message.
func (r RunResult) Completed() bool { return r.Err == nil }

// StopCheck lets the caller force a graceful final. Returning stop=true
// ends the run with message as the assistant output.
type StopCheck func(iteration int) (stop bool, message string)
