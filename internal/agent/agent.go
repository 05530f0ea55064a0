package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/featherdev/feather/internal/events"
	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/memory"
	"github.com/featherdev/feather/internal/policy"
	"github.com/featherdev/feather/internal/quota"
	"github.com/featherdev/feather/internal/tokens"
	"github.com/featherdev/feather/internal/toolcache"
)

// Options configures an Agent.
type Options struct {
	// MaxIterations caps planner invocations per run. Defaults to 10.
	MaxIterations int
	// MaxActionsPerPlan caps actions in one plan. Defaults to 5.
	MaxActionsPerPlan int
	// ContextTokens budgets the memory context per iteration. Defaults
	// to 4000.
	ContextTokens int
	// Metadata is attached to every planner and tool invocation.
	Metadata map[string]string
	// ShouldStop, when set, can force a graceful final each iteration.
	ShouldStop StopCheck
	// DetectLoops ends the run gracefully when the planner repeats the
	// exact plan of the previous iteration.
	DetectLoops bool
	Policy      *policy.Policy
	Quota       *quota.Manager
	ToolCache   *toolcache.Cache
}

// Agent executes runs against a fixed planner and tool set.
type Agent struct {
	planner Planner
	tools   map[string]Tool
	mem     *memory.Manager
	bus     *events.Bus
	pol     *policy.Policy
	opts    Options
}

// New builds an agent. Tool schemas are merged into the policy so argument
// validation happens in one place.
func New(planner Planner, tools []Tool, mem *memory.Manager, bus *events.Bus, opts Options) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.MaxActionsPerPlan <= 0 {
		opts.MaxActionsPerPlan = 5
	}
	if opts.ContextTokens <= 0 {
		opts.ContextTokens = 4000
	}
	if bus == nil {
		bus = events.NewBus()
	}

	pol := opts.Policy
	if pol == nil {
		pol = &policy.Policy{}
	}
	if pol.Schemas == nil {
		pol.Schemas = make(map[string]string)
	}

	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name()] = t
		if schema := t.Schema(); schema != "" {
			if _, exists := pol.Schemas[t.Name()]; !exists {
				pol.Schemas[t.Name()] = schema
			}
		}
	}

	return &Agent{planner: planner, tools: byName, mem: mem, bus: bus, pol: pol, opts: opts}
}

// Bus exposes the event bus for subscribing sinks and trackers.
func (a *Agent) Bus() *events.Bus { return a.bus }

// Run executes one session turn to completion. Failures come back inside
// the result, never as a panic; any non-classified error is wrapped as
// UNEXPECTED_ERROR.
func (a *Agent) Run(ctx context.Context, sessionID, input string) RunResult {
	start := time.Now()
	res := RunResult{}

	fail := func(err *Error) RunResult {
		res.Err = err
		res.Elapsed = time.Since(start)
		a.bus.Emit(events.Event{Type: events.StepDone, SessionID: sessionID,
			Err: err.Error(), Fields: map[string]any{"status": "error", "iteration": res.Iterations}})
		a.bus.Emit(events.Event{Type: events.RunError, SessionID: sessionID,
			Err: err.Error(), Duration: res.Elapsed,
			Fields: map[string]any{"code": string(err.Code), "iterations": res.Iterations}})
		return res
	}

	if sessionID == "" {
		return fail(newError(CodeUnexpectedError, "session id must not be empty"))
	}
	if input == "" {
		return fail(newError(CodeUnexpectedError, "input must not be empty"))
	}

	if _, err := a.mem.Append(ctx, sessionID, llm.Message{Role: llm.RoleUser, Content: input}); err != nil {
		return fail(wrapError(CodeUnexpectedError, "persist user turn", err))
	}
	a.bus.Emit(events.Event{Type: events.MemoryAppend, SessionID: sessionID,
		Fields: map[string]any{"role": "user"}})
	a.bus.Emit(events.Event{Type: events.RunStart, SessionID: sessionID,
		Fields: map[string]any{"input": input}})

	finish := func(final llm.Message) RunResult {
		if _, err := a.mem.Append(ctx, sessionID, final); err != nil {
			return fail(wrapError(CodeUnexpectedError, "persist assistant turn", err))
		}
		a.bus.Emit(events.Event{Type: events.MemoryAppend, SessionID: sessionID,
			Fields: map[string]any{"role": "assistant"}})
		res.Output = final
		res.Elapsed = time.Since(start)
		a.bus.Emit(events.Event{Type: events.StepDone, SessionID: sessionID,
			Fields: map[string]any{"status": "final", "iteration": res.Iterations}})
		a.bus.Emit(events.Event{Type: events.RunComplete, SessionID: sessionID,
			Duration: res.Elapsed,
			Fields: map[string]any{"output": final.Content, "iterations": res.Iterations}})
		return res
	}

	prevFingerprint := ""
	for iteration := 0; ; iteration++ {
		res.Iterations = iteration
		if iteration >= a.opts.MaxIterations {
			return fail(&Error{Code: CodeMaxIterationsExceeded,
				Msg:     fmt.Sprintf("no final answer after %d iterations", a.opts.MaxIterations),
				Details: map[string]any{"maxIterations": a.opts.MaxIterations}})
		}
		if err := ctx.Err(); err != nil {
			return fail(wrapError(CodeAborted, "run cancelled", err))
		}

		contextMsgs, err := a.mem.GetContext(ctx, sessionID, memory.ContextOptions{MaxTokens: a.opts.ContextTokens})
		if err != nil {
			return fail(wrapError(CodeUnexpectedError, "assemble context", err))
		}
		a.bus.Emit(events.Event{Type: events.StepStart, SessionID: sessionID,
			Fields: map[string]any{"iteration": iteration, "contextTurns": len(contextMsgs),
				"contextTokens": tokens.EstimateMessages(contextMsgs)}})
		stepStart := time.Now()

		planStart := time.Now()
		plan, perr := a.plan(ctx, PlannerContext{
			SessionID: sessionID,
			Input:     input,
			Context:   contextMsgs,
			Metadata:  a.opts.Metadata,
			Iteration: iteration,
		})
		if perr != nil {
			return fail(perr)
		}
		a.bus.Emit(events.Event{Type: events.RunPlan, SessionID: sessionID,
			Duration: time.Since(planStart),
			Fields:   map[string]any{"iteration": iteration, "actions": len(plan.Actions), "final": plan.Final != nil}})

		step := StepTrace{Iteration: iteration, Plan: plan}

		if plan.Final != nil {
			step.Duration = time.Since(stepStart)
			res.Steps = append(res.Steps, step)
			return finish(*plan.Final)
		}
		if len(plan.Actions) > a.opts.MaxActionsPerPlan {
			return fail(&Error{Code: CodeMaxActionsExceeded,
				Msg:     fmt.Sprintf("plan requested %d actions, limit is %d", len(plan.Actions), a.opts.MaxActionsPerPlan),
				Details: map[string]any{"actions": len(plan.Actions), "limit": a.opts.MaxActionsPerPlan}})
		}

		if a.opts.DetectLoops || a.opts.ShouldStop != nil {
			if fp, ok := toolcache.Key("plan", plan.Actions); ok {
				if fp == prevFingerprint {
					step.Duration = time.Since(stepStart)
					res.Steps = append(res.Steps, step)
					return finish(llm.Message{Role: llm.RoleAssistant,
						Content: "Stopping: the planner repeated the same plan without making progress."})
				}
				prevFingerprint = fp
			}
		}
		if a.opts.ShouldStop != nil {
			if stop, msg := a.opts.ShouldStop(iteration); stop {
				step.Duration = time.Since(stepStart)
				res.Steps = append(res.Steps, step)
				if msg == "" {
					msg = "Stopping at the caller's request."
				}
				return finish(llm.Message{Role: llm.RoleAssistant, Content: msg})
			}
		}

		for _, action := range plan.Actions {
			result, aerr := a.act(ctx, sessionID, iteration, action)
			if aerr != nil {
				step.Duration = time.Since(stepStart)
				res.Steps = append(res.Steps, step)
				return fail(aerr)
			}
			step.Results = append(step.Results, result)
		}

		step.Duration = time.Since(stepStart)
		res.Steps = append(res.Steps, step)
		a.bus.Emit(events.Event{Type: events.StepDone, SessionID: sessionID,
			Duration: step.Duration,
			Fields:   map[string]any{"status": "continue", "iteration": iteration}})
	}
}

// plan invokes the planner and normalizes its result.
func (a *Agent) plan(ctx context.Context, pc PlannerContext) (Plan, *Error) {
	plan, err := a.planner.Plan(ctx, pc)
	if err != nil {
		if llm.IsAborted(err) {
			return Plan{}, wrapError(CodeAborted, "planner cancelled", err)
		}
		var agentErr *Error
		if errors.As(err, &agentErr) {
			return Plan{}, agentErr
		}
		return Plan{}, wrapError(CodeUnexpectedError, "planner failed", err)
	}

	if plan.Final != nil && len(plan.Actions) > 0 {
		return Plan{}, newError(CodeInvalidPlanFormat, "plan carries both actions and a final message")
	}
	if plan.Final != nil {
		if plan.Final.Role != llm.RoleAssistant {
			return Plan{}, newError(CodeInvalidPlanFinal,
				fmt.Sprintf("final message role must be assistant, got %q", plan.Final.Role))
		}
		if plan.Final.Content == "" {
			return Plan{}, newError(CodeInvalidPlanFinal, "final message content must not be empty")
		}
		return plan, nil
	}
	if len(plan.Actions) == 0 {
		return Plan{}, newError(CodePlanEmptyActions, "plan carries neither actions nor a final message")
	}
	for i, action := range plan.Actions {
		if action.Tool == "" {
			return Plan{}, newError(CodeInvalidPlanFormat, fmt.Sprintf("action %d has no tool name", i))
		}
	}
	return plan, nil
}

// act runs one action through policy, quota, cache, and the tool itself.
func (a *Agent) act(ctx context.Context, sessionID string, iteration int, action Action) (ToolResult, *Error) {
	tool, ok := a.tools[action.Tool]
	if !ok {
		a.bus.Emit(events.Event{Type: events.ToolError, SessionID: sessionID, Tool: action.Tool,
			Err: "unknown tool", Fields: map[string]any{"iteration": iteration}})
		return ToolResult{}, &Error{Code: CodeUnknownTool,
			Msg:     fmt.Sprintf("planner requested unknown tool %q", action.Tool),
			Details: map[string]any{"tool": action.Tool}}
	}

	args, err := a.pol.BeforeTool(action.Tool, action.Input)
	if err != nil {
		// Blocked events carry no input: the rejected arguments must
		// not leak past the validation failure.
		a.bus.Emit(events.Event{Type: events.ToolBlocked, SessionID: sessionID, Tool: action.Tool,
			Err: err.Error(), Fields: map[string]any{"iteration": iteration}})
		var blocked *policy.BlockedError
		if errors.As(err, &blocked) && blocked.NotAllowed {
			return ToolResult{}, wrapError(CodeToolNotAllowed, "tool not allowed", err)
		}
		return ToolResult{}, wrapError(CodeToolValidationFailed, "tool input rejected", err)
	}

	if a.opts.Quota != nil {
		if err := a.opts.Quota.Check(ctx, sessionID, action.Tool, a.opts.Metadata); err != nil {
			a.bus.Emit(events.Event{Type: events.QuotaBlocked, SessionID: sessionID, Tool: action.Tool,
				Err: err.Error(), Fields: map[string]any{"iteration": iteration}})
			var ex *quota.ExceededError
			e := wrapError(CodeQuotaExceeded, "quota exceeded", err)
			if errors.As(err, &ex) {
				e.Details = map[string]any{"rule": ex.Rule, "limit": ex.Limit}
			}
			return ToolResult{}, e
		}
	}

	var (
		cacheKey  string
		cacheable bool
		cached    bool
		result    any
	)
	if ttl := tool.CacheTTL(); ttl > 0 && a.opts.ToolCache != nil {
		if key, ok := toolcache.Key(action.Tool, args); ok {
			cacheKey, cacheable = key, true
			if entry, hit := a.opts.ToolCache.Get(ctx, key); hit {
				cached = true
				result = entry.Result
				a.bus.Emit(events.Event{Type: events.ToolCacheHit, SessionID: sessionID,
					Tool: action.Tool, Fields: map[string]any{"iteration": iteration}})
			}
		}
	}

	a.bus.Emit(events.Event{Type: events.ToolStart, SessionID: sessionID, Tool: action.Tool,
		Fields: map[string]any{"iteration": iteration, "cached": cached}})
	toolStart := time.Now()

	if !cached {
		result, err = tool.Run(ctx, args, a.opts.Metadata)
		if err != nil {
			a.bus.Emit(events.Event{Type: events.ToolError, SessionID: sessionID, Tool: action.Tool,
				Err: err.Error(), Duration: time.Since(toolStart),
				Fields: map[string]any{"iteration": iteration}})
			if llm.IsAborted(err) {
				return ToolResult{}, wrapError(CodeAborted, "tool cancelled", err)
			}
			return ToolResult{}, &Error{Code: CodeToolExecutionFailed,
				Msg: fmt.Sprintf("tool %q failed", action.Tool), Cause: err,
				Details: map[string]any{"tool": action.Tool}}
		}
	}

	result, err = a.pol.AfterTool(action.Tool, result, nil)
	if err != nil {
		a.bus.Emit(events.Event{Type: events.ToolError, SessionID: sessionID, Tool: action.Tool,
			Err: err.Error(), Duration: time.Since(toolStart),
			Fields: map[string]any{"iteration": iteration}})
		return ToolResult{}, wrapError(CodeToolValidationFailed, "tool result rejected", err)
	}

	if cacheable && !cached {
		a.opts.ToolCache.Set(ctx, cacheKey, result, tool.CacheTTL())
	}

	elapsed := time.Since(toolStart)
	a.bus.Emit(events.Event{Type: events.ToolEnd, SessionID: sessionID, Tool: action.Tool,
		Duration: elapsed, Fields: map[string]any{"iteration": iteration, "cached": cached}})

	if _, err := a.mem.Append(ctx, sessionID, llm.Message{
		Role:     llm.RoleTool,
		ToolName: action.Tool,
		Content:  stringifyResult(result),
		Value:    result,
	}); err != nil {
		return ToolResult{}, wrapError(CodeUnexpectedError, "persist tool turn", err)
	}
	a.bus.Emit(events.Event{Type: events.MemoryAppend, SessionID: sessionID,
		Fields: map[string]any{"role": "tool", "tool": action.Tool}})

	return ToolResult{Tool: action.Tool, Result: result, Cached: cached, Duration: elapsed}, nil
}

// stringifyResult renders a tool result for the conversation transcript.
func stringifyResult(result any) string {
	switch v := result.(type) {
	case nil:
		return "null"
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
