package sqlitemem

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/memory"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func turn(session, content string, i int) memory.Turn {
	return memory.Turn{
		ID:        fmt.Sprintf("id-%d", i),
		SessionID: session,
		Role:      llm.RoleUser,
		Content:   content,
		Tokens:    3,
		CreatedAt: time.Now(),
	}
}

func TestAppendAndList(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, turn("s1", fmt.Sprintf("turn %d", i), i), 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Append(ctx, turn("other", "elsewhere", 9), 0); err != nil {
		t.Fatal(err)
	}

	turns, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	for i, tr := range turns {
		if tr.Content != fmt.Sprintf("turn %d", i) {
			t.Errorf("turns[%d] = %q, order must be insertion order", i, tr.Content)
		}
		if tr.Role != llm.RoleUser || tr.SessionID != "s1" {
			t.Errorf("turns[%d] fields = %+v", i, tr)
		}
	}
}

func TestCappedAppendEvictsInSameTransaction(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, turn("s1", fmt.Sprintf("turn %d", i), i), 3); err != nil {
			t.Fatal(err)
		}
		turns, err := s.List(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if len(turns) > 3 {
			t.Fatalf("after append %d the session holds %d turns, cap is 3", i, len(turns))
		}
	}

	turns, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 || turns[0].Content != "turn 2" || turns[2].Content != "turn 4" {
		t.Errorf("kept wrong turns: %+v", turns)
	}
}

func TestListEmptySession(t *testing.T) {
	s := openTestStore(t)
	turns, err := s.List(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("turns = %d, want 0", len(turns))
	}
}

func TestTrimKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, turn("s1", fmt.Sprintf("turn %d", i), i), 0); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Trim(ctx, "s1", 2); err != nil {
		t.Fatal(err)
	}

	turns, err := s.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Content != "turn 3" || turns[1].Content != "turn 4" {
		t.Errorf("kept %q, %q", turns[0].Content, turns[1].Content)
	}
}

func TestTrimZeroDeletes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := s.Append(ctx, turn("s1", "x", 0), 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Trim(ctx, "s1", 0); err != nil {
		t.Fatal(err)
	}
	turns, _ := s.List(ctx, "s1")
	if len(turns) != 0 {
		t.Errorf("turns = %d, want 0", len(turns))
	}
}

func TestWorksBehindManager(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	m := memory.NewManager(s, memory.Options{MaxTurns: 2})

	for i := 0; i < 4; i++ {
		if _, err := m.Append(ctx, "s1", llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("turn %d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	turns, err := m.History(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 || turns[1].Content != "turn 3" {
		t.Errorf("history = %+v", turns)
	}
}
