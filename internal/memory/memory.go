// Package memory manages per-session conversation history behind a
// pluggable Store. The Manager fills in bookkeeping on append, assembles
// token-budgeted context windows, and collapses old turns into summaries.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/featherdev/feather/internal/events"
	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/tokens"
)

// Turn is one stored conversation entry.
type Turn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      llm.Role  `json:"role"`
	Content   string    `json:"content"`
	ToolName  string    `json:"toolName,omitempty"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message converts the turn back to a chat message.
func (t Turn) Message() llm.Message {
	return llm.Message{Role: t.Role, Content: t.Content, ToolName: t.ToolName}
}

// Store persists turns per session. List returns oldest first. Append with
// a positive maxTurns must atomically insert the turn and evict the oldest
// overflow, so concurrent appenders and readers never observe a session over
// its cap. Trim keeps the most recent retain turns; retain zero deletes the
// session.
type Store interface {
	Append(ctx context.Context, turn Turn, maxTurns int) error
	List(ctx context.Context, sessionID string) ([]Turn, error)
	Trim(ctx context.Context, sessionID string, retain int) error
}

// Options tunes a Manager.
type Options struct {
	// MaxTurns caps stored history per session; older turns are evicted
	// on append. Zero means unlimited.
	MaxTurns int
	// Bus, when set, receives memory maintenance events (summarize, trim).
	Bus *events.Bus
}

// ContextOptions bounds a context window. Zero fields mean no bound of that
// kind.
type ContextOptions struct {
	// MaxTurns caps how many of the most recent turns are considered.
	MaxTurns int
	// MaxTokens budgets the window by estimated token count.
	MaxTokens int
}

// Manager wraps a Store with append bookkeeping and context assembly.
type Manager struct {
	store Store
	opts  Options
}

// NewManager wraps a store.
func NewManager(store Store, opts Options) *Manager {
	return &Manager{store: store, opts: opts}
}

func (m *Manager) emit(e events.Event) {
	if m.opts.Bus != nil {
		m.opts.Bus.Emit(e)
	}
}

// Append stores a message as a new turn, filling ID, token estimate, and
// timestamp, and enforcing the MaxTurns cap.
func (m *Manager) Append(ctx context.Context, sessionID string, msg llm.Message) (Turn, error) {
	if err := msg.Validate(); err != nil {
		return Turn{}, err
	}
	turn := Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      msg.Role,
		Content:   msg.Content,
		ToolName:  msg.ToolName,
		Tokens:    tokens.EstimateMessage(msg),
		CreatedAt: time.Now(),
	}
	if err := m.store.Append(ctx, turn, m.opts.MaxTurns); err != nil {
		return Turn{}, fmt.Errorf("append turn: %w", err)
	}
	return turn, nil
}

// GetContext returns the most recent turns that fit the given bounds, in
// chronological order. A turn cap applies first, then the token budget; the
// oldest included turn is truncated at word boundaries when it only
// partially fits. Unbounded options return the full history.
func (m *Manager) GetContext(ctx context.Context, sessionID string, opts ContextOptions) ([]llm.Message, error) {
	turns, err := m.store.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	if opts.MaxTurns > 0 && len(turns) > opts.MaxTurns {
		turns = turns[len(turns)-opts.MaxTurns:]
	}
	if opts.MaxTokens <= 0 {
		out := make([]llm.Message, 0, len(turns))
		for _, t := range turns {
			out = append(out, t.Message())
		}
		return out, nil
	}

	var out []llm.Message
	remaining := opts.MaxTokens
	for i := len(turns) - 1; i >= 0; i-- {
		t := turns[i]
		if t.Tokens <= remaining {
			out = append(out, t.Message())
			remaining -= t.Tokens
			continue
		}
		if truncated, ok := truncateToBudget(t.Content, remaining); ok {
			msg := t.Message()
			msg.Content = truncated
			out = append(out, msg)
		}
		break
	}

	// Reverse newest-first accumulation back to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// History returns the full stored history, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string) ([]Turn, error) {
	return m.store.List(ctx, sessionID)
}

// Trim keeps the most recent retain turns. Retain zero clears the session.
func (m *Manager) Trim(ctx context.Context, sessionID string, retain int) error {
	if err := m.store.Trim(ctx, sessionID, retain); err != nil {
		return err
	}
	m.emit(events.Event{Type: events.MemoryTrim, SessionID: sessionID,
		Fields: map[string]any{"retainTurns": retain}})
	return nil
}

// Summarize collapses everything but the most recent keepRecent turns into
// one summary turn produced by s, then rewrites the session as summary
// followed by the kept turns.
func (m *Manager) Summarize(ctx context.Context, sessionID string, keepRecent int, s Summarizer) error {
	turns, err := m.store.List(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list turns: %w", err)
	}
	if keepRecent < 0 {
		keepRecent = 0
	}
	if len(turns) <= keepRecent {
		return nil
	}
	old := turns[:len(turns)-keepRecent]
	kept := turns[len(turns)-keepRecent:]

	summary, err := s.Summarize(ctx, old)
	if err != nil {
		return fmt.Errorf("summarize turns: %w", err)
	}

	if err := m.store.Trim(ctx, sessionID, 0); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if _, err := m.Append(ctx, sessionID, llm.Message{Role: llm.RoleSummary, Content: summary}); err != nil {
		return err
	}
	for _, t := range kept {
		if err := m.store.Append(ctx, t, 0); err != nil {
			return fmt.Errorf("restore turn: %w", err)
		}
	}
	m.emit(events.Event{Type: events.MemorySummarize, SessionID: sessionID,
		Fields: map[string]any{"retainTurns": keepRecent, "collapsedTurns": len(old)}})
	return nil
}

// truncateToBudget cuts content at word boundaries so its estimate fits
// budget, marking the cut with an ellipsis. ok is false when not even one
// word fits.
func truncateToBudget(content string, budget int) (string, bool) {
	if budget <= 0 {
		return "", false
	}
	words := strings.Fields(content)
	lo, hi := 0, len(words)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		candidate := strings.Join(words[:mid], " ") + " …"
		if tokens.Estimate(candidate) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo == 0 {
		return "", false
	}
	return strings.Join(words[:lo], " ") + " …", true
}
