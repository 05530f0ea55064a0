package jsonplanner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/featherdev/feather/internal/agent"
	"github.com/featherdev/feather/internal/llm"
)

type manifestTool struct {
	name, desc, schema string
}

func (t manifestTool) Name() string            { return t.name }
func (t manifestTool) Description() string     { return t.desc }
func (t manifestTool) Schema() string          { return t.schema }
func (t manifestTool) CacheTTL() time.Duration { return 0 }
func (t manifestTool) Run(context.Context, map[string]any, map[string]string) (any, error) {
	return nil, nil
}

func fixedReply(reply string) ChatFunc {
	return func(context.Context, []llm.Message) (string, error) { return reply, nil }
}

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		found bool
	}{
		{"bare object", `{"final":{"content":"hi"}}`, `{"final":{"content":"hi"}}`, true},
		{"prose around", "Sure! Here you go:\n{\"actions\":[]}\nHope that helps.", `{"actions":[]}`, true},
		{"code fence", "```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{"nested braces", `{"a":{"b":{"c":1}}}`, `{"a":{"b":{"c":1}}}`, true},
		{"brace inside string", `{"msg":"use {curly} braces"}`, `{"msg":"use {curly} braces"}`, true},
		{"escaped quote inside string", `{"msg":"she said \"hi}\" twice"}`, `{"msg":"she said \"hi}\" twice"}`, true},
		{"unbalanced", `{"a":1`, "", false},
		{"no object", "plain text only", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractObject(tt.in)
			if ok != tt.found || got != tt.want {
				t.Errorf("extractObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.found)
			}
		})
	}
}

func TestPlanActions(t *testing.T) {
	p := New(fixedReply(`I'll search first. {"actions":[{"tool":"search","input":{"q":"weather"}}]}`), nil, Options{})
	plan, err := p.Plan(context.Background(), agent.PlannerContext{SessionID: "s", Input: "weather?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Actions) != 1 || plan.Actions[0].Tool != "search" {
		t.Fatalf("plan = %+v", plan)
	}
	if q := plan.Actions[0].Input["q"]; q != "weather" {
		t.Errorf("input q = %v", q)
	}
}

func TestPlanFinal(t *testing.T) {
	p := New(fixedReply(`{"final":{"content":"It is sunny."}}`), nil, Options{})
	plan, err := p.Plan(context.Background(), agent.PlannerContext{Input: "weather?"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Final == nil || plan.Final.Content != "It is sunny." {
		t.Fatalf("plan = %+v", plan)
	}
	if plan.Final.Role != llm.RoleAssistant {
		t.Errorf("role = %s, want assistant default", plan.Final.Role)
	}
}

func TestFallbackOnGarbage(t *testing.T) {
	for _, reply := range []string{"no json here", `{"neither":"shape"}`, "{broken"} {
		p := New(fixedReply(reply), nil, Options{})
		plan, err := p.Plan(context.Background(), agent.PlannerContext{Input: "x"})
		if err != nil {
			t.Fatal(err)
		}
		if plan.Final == nil || !strings.Contains(plan.Final.Content, "couldn't determine") {
			t.Errorf("reply %q: plan = %+v, want canned fallback", reply, plan)
		}
	}
}

func TestCustomFallbackSeesRawReply(t *testing.T) {
	var raw string
	p := New(fixedReply("not json"), nil, Options{
		Fallback: func(_ context.Context, _ agent.PlannerContext, r string) agent.Plan {
			raw = r
			return agent.Plan{Final: &llm.Message{Role: llm.RoleAssistant, Content: "custom"}}
		},
	})
	plan, _ := p.Plan(context.Background(), agent.PlannerContext{Input: "x"})
	if plan.Final.Content != "custom" || raw != "not json" {
		t.Errorf("plan = %+v, raw = %q", plan, raw)
	}
}

func TestModelErrorFallsBack(t *testing.T) {
	p := New(func(context.Context, []llm.Message) (string, error) {
		return "", errors.New("upstream down")
	}, nil, Options{})
	plan, err := p.Plan(context.Background(), agent.PlannerContext{Input: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if plan.Final == nil {
		t.Fatal("want fallback final")
	}
}

func TestAbortPropagates(t *testing.T) {
	p := New(func(ctx context.Context, _ []llm.Message) (string, error) {
		return "", context.Canceled
	}, nil, Options{})
	_, err := p.Plan(context.Background(), agent.PlannerContext{Input: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSystemPromptCarriesManifest(t *testing.T) {
	var system string
	chat := func(_ context.Context, msgs []llm.Message) (string, error) {
		system = msgs[0].Content
		return `{"final":{"content":"ok"}}`, nil
	}
	tools := []agent.Tool{manifestTool{
		name: "search", desc: "web search",
		schema: `{"type":"object","required":["q"]}`,
	}}
	p := New(chat, tools, Options{})
	if _, err := p.Plan(context.Background(), agent.PlannerContext{Input: "x"}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"search", "web search", `"required":["q"]`} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestContextReplacesBareInput(t *testing.T) {
	var sent []llm.Message
	chat := func(_ context.Context, msgs []llm.Message) (string, error) {
		sent = msgs
		return `{"final":{"content":"ok"}}`, nil
	}
	p := New(chat, nil, Options{})
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "weather?"},
		{Role: llm.RoleTool, ToolName: "search", Content: "sunny"},
	}
	if _, err := p.Plan(context.Background(), agent.PlannerContext{Input: "weather?", Context: history}); err != nil {
		t.Fatal(err)
	}
	// system + the two history turns; the raw input is not re-appended.
	if len(sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(sent))
	}
	if sent[1].Content != "weather?" || sent[2].Content != "sunny" {
		t.Errorf("history not forwarded: %+v", sent[1:])
	}
}
