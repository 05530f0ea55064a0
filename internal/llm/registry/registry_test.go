package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/featherdev/feather/internal/llm"
)

type stubProvider struct{ name string }

func (s stubProvider) Chat(context.Context, llm.ChatRequest) (llm.ChatResponse, error) {
	return llm.ChatResponse{Content: s.name}, nil
}

func entry(key, model string, in, out float64, aliases ...string) llm.ProviderEntry {
	return llm.ProviderEntry{
		Key:      key,
		Provider: stubProvider{name: key},
		Models: []llm.ModelSpec{{
			Name:        model,
			Aliases:     aliases,
			InputPer1K:  in,
			OutputPer1K: out,
		}},
	}
}

func TestChooseFirst(t *testing.T) {
	r := New()
	r.Add(entry("a", "gpt-4o", 1, 2))
	r.Add(entry("b", "gpt-4o", 0.1, 0.2))

	m, err := r.Choose("gpt-4o", StrategyFirst)
	if err != nil {
		t.Fatal(err)
	}
	if m.Entry.Key != "a" {
		t.Errorf("first strategy picked %s, want a", m.Entry.Key)
	}
}

func TestChooseNoProvider(t *testing.T) {
	r := New()
	r.Add(entry("a", "gpt-4o", 1, 2))

	_, err := r.Choose("claude-sonnet", StrategyFirst)
	var npe *llm.NoProviderError
	if !errors.As(err, &npe) {
		t.Fatalf("err = %v, want NoProviderError", err)
	}
	if npe.Model != "claude-sonnet" {
		t.Errorf("Model = %s", npe.Model)
	}
}

func TestChooseRoundRobin(t *testing.T) {
	r := New()
	r.Add(entry("a", "gpt-4o", 1, 2))
	r.Add(entry("b", "gpt-4o", 1, 2))
	r.Add(entry("c", "gpt-4o", 1, 2))

	var got []string
	for i := 0; i < 6; i++ {
		m, err := r.Choose("gpt-4o", StrategyRoundRobin)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, m.Entry.Key)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestChooseCheapest(t *testing.T) {
	r := New()
	r.Add(entry("pricey", "gpt-4o", 5, 15))
	r.Add(entry("cheap", "gpt-4o", 0.15, 0.6))
	r.Add(entry("mid", "gpt-4o", 1, 3))

	m, err := r.Choose("gpt-4o", StrategyCheapest)
	if err != nil {
		t.Fatal(err)
	}
	if m.Entry.Key != "cheap" {
		t.Errorf("cheapest strategy picked %s", m.Entry.Key)
	}
}

func TestChooseCheapestTieBreaksByOrder(t *testing.T) {
	r := New()
	r.Add(entry("a", "gpt-4o", 1, 1))
	r.Add(entry("b", "gpt-4o", 1, 1))

	m, err := r.Choose("gpt-4o", StrategyCheapest)
	if err != nil {
		t.Fatal(err)
	}
	if m.Entry.Key != "a" {
		t.Errorf("tie must break by registration order, got %s", m.Entry.Key)
	}
}

func TestMatchesEmptyModelListsEverything(t *testing.T) {
	r := New()
	r.Add(entry("a", "gpt-4o", 1, 2))
	r.Add(llm.ProviderEntry{
		Key:      "b",
		Provider: stubProvider{name: "b"},
		Models: []llm.ModelSpec{
			{Name: "claude-sonnet-4", InputPer1K: 3, OutputPer1K: 15},
			{Name: "claude-haiku-4", InputPer1K: 1, OutputPer1K: 5},
		},
	})

	matches := r.Matches("")
	if len(matches) != 3 {
		t.Fatalf("matches = %d, want every declared model", len(matches))
	}
	if matches[0].Model.Name != "gpt-4o" || matches[2].Model.Name != "claude-haiku-4" {
		t.Errorf("order = %s .. %s, want registration order", matches[0].Model.Name, matches[2].Model.Name)
	}
}

func TestChooseEmptyModelAppliesStrategy(t *testing.T) {
	r := New()
	r.Add(entry("pricey", "gpt-4o", 5, 15))
	r.Add(entry("cheap", "claude-haiku-4", 0.15, 0.6))

	m, err := r.Choose("", StrategyCheapest)
	if err != nil {
		t.Fatal(err)
	}
	if m.Entry.Key != "cheap" {
		t.Errorf("cheapest over all models picked %s", m.Entry.Key)
	}
}

func TestLookup(t *testing.T) {
	r := New()
	r.Add(entry("a", "gpt-4o", 1, 2))
	r.Add(entry("b", "gpt-4o", 1, 2, "four-o"))

	m, err := r.Lookup("b", "four-o")
	if err != nil {
		t.Fatal(err)
	}
	if m.Entry.Key != "b" || m.Model.Name != "gpt-4o" {
		t.Errorf("lookup = %s/%s", m.Entry.Key, m.Model.Name)
	}

	_, err = r.Lookup("a", "claude-sonnet-4")
	var npe *llm.NoProviderError
	if !errors.As(err, &npe) {
		t.Fatalf("err = %v, want NoProviderError", err)
	}
	if npe.Provider != "a" || npe.Model != "claude-sonnet-4" {
		t.Errorf("error fields = %q/%q", npe.Provider, npe.Model)
	}

	if _, err := r.Lookup("ghost", "gpt-4o"); err == nil {
		t.Error("unknown provider key must fail")
	}
}

func TestAliasMatching(t *testing.T) {
	r := New()
	r.Add(entry("a", "claude-sonnet-4", 3, 15, "sonnet"))

	m, err := r.Choose("sonnet", StrategyFirst)
	if err != nil {
		t.Fatal(err)
	}
	if m.Model.Name != "claude-sonnet-4" {
		t.Errorf("alias resolved to %s", m.Model.Name)
	}
}

func TestReAddReplacesInPlace(t *testing.T) {
	r := New()
	r.Add(entry("a", "gpt-4o", 1, 1))
	r.Add(entry("b", "gpt-4o", 1, 1))
	r.Add(entry("a", "gpt-4o-mini", 1, 1))

	entries := r.Providers()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Key != "a" || entries[0].Models[0].Name != "gpt-4o-mini" {
		t.Errorf("re-add must replace in place: %+v", entries[0])
	}
}
