// Package llm defines the provider-agnostic chat data model shared by the
// dispatcher, the providers, and the agent runtime.
package llm

import (
	"context"
	"fmt"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSummary   Role = "summary"
)

// Message is one turn of a conversation. User, system and assistant turns
// carry plain text; tool turns additionally carry the tool name and an
// opaque value produced by the tool.
type Message struct {
	Role     Role
	Content  string
	ToolName string // set on tool turns
	Value    any    // opaque tool payload, serialized when fingerprinted
}

// Validate checks the message role and tool-turn invariants.
func (m Message) Validate() error {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool, RoleSummary:
	default:
		return fmt.Errorf("invalid message role: %s", m.Role)
	}
	if m.Role == RoleTool && m.ToolName == "" {
		return fmt.Errorf("tool messages must carry a tool name")
	}
	return nil
}

// ChatRequest is a single chat completion request.
// Optional knobs are pointers so that "unset" is distinguishable from zero.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64 // [0, 2]
	MaxTokens   *int     // >= 1
	TopP        *float64 // [0, 1]
}

// Validate enforces the request invariants before any I/O happens.
func (r ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return &ContractError{Msg: "messages must not be empty"}
	}
	for i, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return &ContractError{Msg: fmt.Sprintf("message %d: %v", i, err)}
		}
	}
	if r.Temperature != nil && (*r.Temperature < 0 || *r.Temperature > 2) {
		return &ContractError{Msg: fmt.Sprintf("temperature %v out of range [0,2]", *r.Temperature)}
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return &ContractError{Msg: fmt.Sprintf("maxTokens %d must be >= 1", *r.MaxTokens)}
	}
	if r.TopP != nil && (*r.TopP < 0 || *r.TopP > 1) {
		return &ContractError{Msg: fmt.Sprintf("topP %v out of range [0,1]", *r.TopP)}
	}
	return nil
}

// Usage holds token accounting returned by providers.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// ChatResponse is the normalized result of one chat call.
type ChatResponse struct {
	Content string
	Raw     any // provider payload, when available
	Usage   Usage
	CostUSD float64
}

// StreamChunk is one incremental piece of a streamed response.
type StreamChunk struct {
	ContentDelta string
}

// ChatProvider is the minimal capability every provider adapter implements.
type ChatProvider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// StreamProvider is the optional streaming capability. The chunk channel
// carries deltas until close; the error channel then yields exactly one
// value, nil on clean termination.
type StreamProvider interface {
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, <-chan error)
}

// ModelSpec declares one model a provider serves, with per-1K-token pricing.
type ModelSpec struct {
	Name        string
	Aliases     []string
	InputPer1K  float64
	OutputPer1K float64
}

// Matches reports whether the spec's name or one of its aliases equals s.
func (m ModelSpec) Matches(s string) bool {
	if m.Name == s {
		return true
	}
	for _, a := range m.Aliases {
		if a == s {
			return true
		}
	}
	return false
}

// ProviderEntry bundles a caller-chosen key, a provider instance and its
// declared models. This is the unit the registry and orchestrator select on.
type ProviderEntry struct {
	Key      string
	Provider ChatProvider
	Models   []ModelSpec
}

// FindModel resolves a model name or alias within the entry.
func (e ProviderEntry) FindModel(nameOrAlias string) (ModelSpec, bool) {
	for _, m := range e.Models {
		if m.Matches(nameOrAlias) {
			return m, true
		}
	}
	return ModelSpec{}, false
}
