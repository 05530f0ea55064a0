// Package quota enforces usage ceilings on tool execution. Rules count
// calls per session, per user, or globally over a rolling interval, backed
// by a pluggable counter so limits can be shared across processes.
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scope selects what a rule's counter is keyed by.
type Scope string

const (
	// ScopeSession counts per session ID.
	ScopeSession Scope = "session"
	// ScopeUser counts per a metadata value named by MetadataKey.
	ScopeUser Scope = "user"
	// ScopeGlobal counts across everything.
	ScopeGlobal Scope = "global"
)

// Rule is one quota: at most Limit counted calls per Interval.
type Rule struct {
	Name     string
	Limit    int64
	Interval time.Duration
	Scope    Scope
	// MetadataKey names the metadata entry that identifies the user for
	// ScopeUser rules.
	MetadataKey string
	// IncludeTool makes the counter per-tool instead of shared.
	IncludeTool bool
}

// Key derives the counter key for one call under this rule. ok is false
// when the rule does not apply, e.g. a user-scoped rule with no user
// identity in the metadata.
func (r Rule) Key(sessionID, tool string, metadata map[string]string) (string, bool) {
	var scopeKey string
	switch r.Scope {
	case ScopeSession:
		scopeKey = sessionID
	case ScopeUser:
		metaKey := r.MetadataKey
		if metaKey == "" {
			metaKey = "userId"
		}
		scopeKey = strings.TrimSpace(metadata[metaKey])
		if scopeKey == "" {
			return "", false
		}
	default:
		scopeKey = "global"
	}
	key := "quota:" + r.Name + ":" + scopeKey
	if r.IncludeTool && tool != "" {
		key += ":" + tool
	}
	return key, true
}

// ExceededError reports a tripped quota.
type ExceededError struct {
	Rule  string
	Limit int64
	Key   string
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota %q exceeded (limit %d)", e.Rule, e.Limit)
}

// Counter increments a key within its interval window and returns the new
// count. The window starts with the first increment and resets after
// interval.
type Counter interface {
	Incr(ctx context.Context, key string, interval time.Duration) (int64, error)
}

// Manager evaluates a rule set against a shared counter.
type Manager struct {
	rules   []Rule
	counter Counter
}

// NewManager builds a manager. A nil counter gets an in-process one.
func NewManager(rules []Rule, counter Counter) *Manager {
	if counter == nil {
		counter = NewInProcessCounter()
	}
	return &Manager{rules: rules, counter: counter}
}

// Check counts this call against every applicable rule, returning
// *ExceededError for the first rule over its limit. Counter backend
/// failures fail open: a broken counter must not halt the agent.
func (m *Manager) Check(ctx context.Context, sessionID, tool string, metadata map[string]string) error {
	for _, r := range m.rules {
		if r.Limit <= 0 {
			continue
		}
		key, ok := r.Key(sessionID, tool, metadata)
		if !ok {
			continue
		}
		n, err := m.counter.Incr(ctx, key, r.Interval)
		if err != nil {
			continue
		}
		if n > r.Limit {
			return &ExceededError{Rule: r.Name, Limit: r.Limit, Key: key}
		}
	}
	return nil
}
