// Package jsonplanner adapts a plain text model callable into an
// agent.Planner. It prompts the model for a JSON plan, extracts the first
// balanced object from the reply, and falls back to a canned final when
// the model produces nothing usable.
package jsonplanner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/featherdev/feather/internal/agent"
	"github.com/featherdev/feather/internal/llm"
)

// ChatFunc invokes a text model with a prepared conversation and returns
// its reply. Typically a closure over a dispatcher's Chat.
type ChatFunc func(ctx context.Context, msgs []llm.Message) (string, error)

// Fallback produces a plan when the model's reply could not be parsed.
// raw is the unparsed reply.
type Fallback func(ctx context.Context, pc agent.PlannerContext, raw string) agent.Plan

// Options configures a Planner.
type Options struct {
	// SystemPrompt replaces the built-in instructions when set.
	SystemPrompt string
	// Fallback handles unparseable replies. Defaults to a canned final.
	Fallback Fallback
}

// Planner asks a text model for the next plan.
type Planner struct {
	chat     ChatFunc
	manifest string
	opts     Options
}

const defaultSystemPrompt = `You are the planning component of a tool-using assistant.
On every turn reply with exactly one JSON object and nothing else, in one of two shapes:
  {"actions": [{"tool": "<name>", "input": {...}}]}  to invoke tools, or
  {"final": {"content": "<answer>"}}                  when you can answer the user.
Only use tools from the manifest below. Inputs must satisfy each tool's schema.`

// New builds a planner over a chat callable and the tools it may plan for.
func New(chat ChatFunc, tools []agent.Tool, opts Options) *Planner {
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	if opts.Fallback == nil {
		opts.Fallback = func(context.Context, agent.PlannerContext, string) agent.Plan {
			return agent.Plan{Final: &llm.Message{
				Role:    llm.RoleAssistant,
				Content: "I couldn't determine the next action for this request.",
			}}
		}
	}
	return &Planner{chat: chat, manifest: buildManifest(tools), opts: opts}
}

// Plan implements agent.Planner.
func (p *Planner) Plan(ctx context.Context, pc agent.PlannerContext) (agent.Plan, error) {
	msgs := make([]llm.Message, 0, len(pc.Context)+2)
	msgs = append(msgs, llm.Message{
		Role:    llm.RoleSystem,
		Content: p.opts.SystemPrompt + "\n\nAvailable tools:\n" + p.manifest,
	})
	msgs = append(msgs, pc.Context...)
	if len(pc.Context) == 0 {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: pc.Input})
	}

	reply, err := p.chat(ctx, msgs)
	if err != nil {
		if llm.IsAborted(err) {
			return agent.Plan{}, err
		}
		return p.opts.Fallback(ctx, pc, ""), nil
	}

	obj, ok := extractObject(reply)
	if !ok {
		return p.opts.Fallback(ctx, pc, reply), nil
	}

	var wire struct {
		Actions []struct {
			Tool  string         `json:"tool"`
			Input map[string]any `json:"input"`
		} `json:"actions"`
		Final *struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"final"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return p.opts.Fallback(ctx, pc, reply), nil
	}
	if wire.Final == nil && len(wire.Actions) == 0 {
		return p.opts.Fallback(ctx, pc, reply), nil
	}

	var plan agent.Plan
	if wire.Final != nil {
		role := llm.Role(wire.Final.Role)
		if wire.Final.Role == "" {
			role = llm.RoleAssistant
		}
		plan.Final = &llm.Message{Role: role, Content: wire.Final.Content}
		return plan, nil
	}
	for _, a := range wire.Actions {
		plan.Actions = append(plan.Actions, agent.Action{Tool: a.Tool, Input: a.Input})
	}
	return plan, nil
}

// buildManifest renders a readable tool list for the system prompt.
func buildManifest(tools []agent.Tool) string {
	if len(tools) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s", t.Name(), t.Description())
		if schema := t.Schema(); schema != "" {
			fmt.Fprintf(&b, "\n  input schema: %s", schema)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// extractObject returns the first balanced {…} in s, skipping braces that
// appear inside JSON string literals. Models often wrap the object in
// prose or code fences, so anything around it is ignored.
func extractObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
