// Package policy gates tool execution: an allow-list, JSON Schema argument
// validation, custom checks, and redaction hooks for inputs and results.
// Every decision can be audited.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// BlockedError reports a rejected tool call. The reason is safe to surface
// to the model; redacted argument values never appear in it. NotAllowed
// distinguishes allow-list rejections from validation failures.
type BlockedError struct {
	Tool       string
	Reason     string
	NotAllowed bool
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("tool %q blocked: %s", e.Tool, e.Reason)
}

// AuditEntry records one policy decision.
type AuditEntry struct {
	Time    time.Time
	Tool    string
	Allowed bool
	Reason  string
	Args    map[string]any // post-redaction
	Err     string
}

// Policy is a set of tool-call gates. The zero value allows everything.
type Policy struct {
	// AllowedTools whitelists tool names; empty allows all.
	AllowedTools []string
	// Schemas maps tool name to a JSON Schema its arguments must satisfy.
	Schemas map[string]string
	// Validate is a custom check run after schema validation.
	Validate func(tool string, args map[string]any) error
	// RedactInput rewrites arguments before execution and auditing.
	RedactInput func(tool string, args map[string]any) map[string]any
	// RedactResult rewrites or rejects results before they reach memory or
	// the model. A returned error fails the call.
	RedactResult func(tool string, result any) (any, error)
	// Audit receives every decision. Panics are swallowed.
	Audit func(AuditEntry)
}

// BeforeTool validates and redacts one tool call. On success it returns the
// arguments to execute with; on rejection the returned error is a
// *BlockedError.
func (p *Policy) BeforeTool(tool string, args map[string]any) (map[string]any, error) {
	if args == nil {
		args = map[string]any{}
	}

	if reason, notAllowed := p.check(tool, args); reason != "" {
		blocked := &BlockedError{Tool: tool, Reason: reason, NotAllowed: notAllowed}
		p.audit(AuditEntry{Time: time.Now(), Tool: tool, Reason: reason, Err: blocked.Error()})
		return nil, blocked
	}

	if p.RedactInput != nil {
		args = p.RedactInput(tool, args)
	}
	p.audit(AuditEntry{Time: time.Now(), Tool: tool, Allowed: true, Args: args})
	return args, nil
}

// AfterTool redacts a tool result and audits the completed call. A result
// rejected by RedactResult comes back as a *BlockedError.
func (p *Policy) AfterTool(tool string, result any, execErr error) (any, error) {
	if p.RedactResult != nil {
		redacted, err := p.RedactResult(tool, result)
		if err != nil {
			blocked := &BlockedError{Tool: tool, Reason: "result rejected: " + err.Error()}
			p.audit(AuditEntry{Time: time.Now(), Tool: tool, Reason: blocked.Reason, Err: blocked.Error()})
			return nil, blocked
		}
		result = redacted
	}
	entry := AuditEntry{Time: time.Now(), Tool: tool, Allowed: true, Reason: "completed"}
	if execErr != nil {
		entry.Err = execErr.Error()
	}
	p.audit(entry)
	return result, nil
}

func (p *Policy) check(tool string, args map[string]any) (reason string, notAllowed bool) {
	if len(p.AllowedTools) > 0 {
		allowed := false
		for _, name := range p.AllowedTools {
			if name == tool {
				allowed = true
				break
			}
		}
		if !allowed {
			return "not on the allow-list", true
		}
	}

	if schema, ok := p.Schemas[tool]; ok {
		result, err := gojsonschema.Validate(
			gojsonschema.NewStringLoader(schema),
			gojsonschema.NewGoLoader(args),
		)
		if err != nil {
			return fmt.Sprintf("schema validation failed: %v", err), false
		}
		if !result.Valid() {
			descs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				descs = append(descs, e.String())
			}
			return "arguments rejected by schema: " + strings.Join(descs, "; "), false
		}
	}

	if p.Validate != nil {
		if err := p.Validate(tool, args); err != nil {
			return err.Error(), false
		}
	}
	return "", false
}

func (p *Policy) audit(entry AuditEntry) {
	if p.Audit == nil {
		return
	}
	defer func() { _ = recover() }()
	p.Audit(entry)
}
