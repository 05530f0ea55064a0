package promptbuild

import (
	"errors"
	"strings"
	"testing"

	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/tokens"
)

func msg(role llm.Role, content string) llm.Message {
	return llm.Message{Role: role, Content: content}
}

func TestLayerOrder(t *testing.T) {
	out, err := Build(Input{
		Base:    []llm.Message{msg(llm.RoleSystem, "be brief")},
		Digests: []llm.Message{msg(llm.RoleSummary, "earlier we discussed cats")},
		RAG:     []llm.Message{msg(llm.RoleSystem, "reference: cats purr")},
		History: []llm.Message{msg(llm.RoleUser, "tell me more")},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"be brief", "earlier we discussed cats", "reference: cats purr", "tell me more"}
	if len(out) != len(want) {
		t.Fatalf("got %d messages", len(out))
	}
	for i, w := range want {
		if out[i].Content != w {
			t.Errorf("out[%d] = %q, want %q", i, out[i].Content, w)
		}
	}
}

func TestDigestSynthesizedFromPrefix(t *testing.T) {
	history := []llm.Message{
		msg(llm.RoleUser, "first question"),
		msg(llm.RoleAssistant, "first answer"),
		msg(llm.RoleUser, "second question"),
	}
	out, err := Build(Input{History: history, MaxRecentTurns: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d messages, want digest + 1 recent", len(out))
	}
	if out[0].Role != llm.RoleSummary {
		t.Errorf("out[0].Role = %s", out[0].Role)
	}
	for _, w := range []string{"[user] first question", "[assistant] first answer"} {
		if !strings.Contains(out[0].Content, w) {
			t.Errorf("digest missing %q: %q", w, out[0].Content)
		}
	}
	if out[1].Content != "second question" {
		t.Errorf("recent = %q", out[1].Content)
	}
}

func TestExplicitDigestsSuppressSynthesis(t *testing.T) {
	out, err := Build(Input{
		History:        []llm.Message{msg(llm.RoleUser, "old"), msg(llm.RoleUser, "new")},
		Digests:        []llm.Message{msg(llm.RoleSummary, "provided digest")},
		MaxRecentTurns: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0].Content != "provided digest" {
		t.Fatalf("out = %+v", out)
	}
}

func TestRAGDroppedFromTailFirst(t *testing.T) {
	rag := []llm.Message{
		msg(llm.RoleSystem, strings.Repeat("alpha ", 40)),
		msg(llm.RoleSystem, strings.Repeat("beta ", 40)),
	}
	recent := msg(llm.RoleUser, "question")
	budget := tokens.EstimateMessage(rag[0]) + tokens.EstimateMessage(recent) + 2

	out, err := Build(Input{RAG: rag, History: []llm.Message{recent}, MaxTokens: budget})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d messages: %+v", len(out), out)
	}
	if !strings.Contains(out[0].Content, "alpha") {
		t.Errorf("head RAG must survive, tail dropped: %q", out[0].Content)
	}
	if out[1].Content != "question" {
		t.Errorf("recent dropped: %+v", out)
	}
}

func TestDigestTruncatedBeforeRecentsDropped(t *testing.T) {
	digest := msg(llm.RoleSummary, strings.Repeat("history word ", 100))
	recent := msg(llm.RoleUser, "the live question")
	budget := tokens.EstimateMessage(recent) + 30

	out, err := Build(Input{
		Digests: []llm.Message{digest},
		History: []llm.Message{recent},
		MaxTokens: budget,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d messages: %+v", len(out), out)
	}
	if !strings.HasSuffix(out[0].Content, "…") {
		t.Errorf("digest not truncated: %q", out[0].Content)
	}
	if out[1].Content != "the live question" {
		t.Errorf("recent must survive digest truncation: %+v", out)
	}
}

func TestOldestRecentsDropped(t *testing.T) {
	history := []llm.Message{
		msg(llm.RoleUser, strings.Repeat("stale ", 50)),
		msg(llm.RoleUser, "fresh"),
	}
	budget := tokens.EstimateMessage(history[1]) + 1

	out, err := Build(Input{History: history, MaxTokens: budget})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Content != "fresh" {
		t.Fatalf("out = %+v, want only the newest recent", out)
	}
}

func TestLastBaseMessageTruncated(t *testing.T) {
	base := []llm.Message{
		msg(llm.RoleSystem, "short rule"),
		msg(llm.RoleSystem, strings.Repeat("verbose instructions ", 60)),
	}
	budget := tokens.EstimateMessage(base[0]) + 30

	out, err := Build(Input{Base: base, MaxTokens: budget})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d messages", len(out))
	}
	if out[0].Content != "short rule" {
		t.Errorf("first base message must be untouched: %q", out[0].Content)
	}
	if !strings.HasSuffix(out[1].Content, "…") {
		t.Errorf("last base message not truncated: %q", out[1].Content)
	}
}

func TestBudgetErrorWhenIrreducible(t *testing.T) {
	_, err := Build(Input{
		Base:      []llm.Message{msg(llm.RoleSystem, strings.Repeat("immovable ", 100))},
		MaxTokens: 2,
	})
	var be *BudgetError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BudgetError", err)
	}
	if be.Budget != 2 {
		t.Errorf("Budget = %d", be.Budget)
	}
}

func TestZeroBudgetMeansUnlimited(t *testing.T) {
	out, err := Build(Input{
		Base:    []llm.Message{msg(llm.RoleSystem, strings.Repeat("x ", 500))},
		History: []llm.Message{msg(llm.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d messages", len(out))
	}
}

func TestInputSlicesNotMutated(t *testing.T) {
	rag := []llm.Message{
		msg(llm.RoleSystem, strings.Repeat("a ", 50)),
		msg(llm.RoleSystem, strings.Repeat("b ", 50)),
	}
	in := Input{RAG: rag, MaxTokens: tokens.EstimateMessage(rag[0]) + 1}
	if _, err := Build(in); err != nil {
		t.Fatal(err)
	}
	if len(rag) != 2 || !strings.Contains(rag[1].Content, "b") {
		t.Error("caller slice mutated")
	}
}
