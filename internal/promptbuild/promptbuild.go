// Package promptbuild assembles layered prompts under a token budget. The
// layers are fixed base messages, a digest of older history, retrieved
// reference messages, and the most recent conversation turns, linearized
// in that order.
package promptbuild

import (
	"fmt"
	"strings"

	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/tokens"
)

// Input describes one prompt to assemble.
type Input struct {
	// History is the full conversation, oldest first. The last
	// MaxRecentTurns become the recent layer; the prefix feeds the digest.
	History []llm.Message
	// Base messages lead the prompt, typically system instructions.
	Base []llm.Message
	// RAG messages carry retrieved reference material.
	RAG []llm.Message
	// Digests summarize older history. When empty, one digest is
	// synthesized from the historic prefix.
	Digests []llm.Message
	// MaxTokens is the budget for the assembled prompt.
	MaxTokens int
	// MaxRecentTurns caps the recent layer. Zero or negative keeps the
	// whole history recent, which disables digest synthesis.
	MaxRecentTurns int
}

// BudgetError reports a prompt that could not be reduced to fit.
type BudgetError struct {
	Budget int
	Tokens int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("prompt needs %d tokens but the budget is %d", e.Tokens, e.Budget)
}

// Build linearizes the layers as base, digest, RAG, recent, then shrinks
// until the estimate fits MaxTokens. Reduction order: RAG dropped from
// the tail, digest truncated at word boundaries, oldest recents dropped,
// the last base message truncated. A prompt that still exceeds the budget
// after all of that returns *BudgetError.
func Build(in Input) ([]llm.Message, error) {
	recents := in.History
	var prefix []llm.Message
	if in.MaxRecentTurns > 0 && len(in.History) > in.MaxRecentTurns {
		prefix = in.History[:len(in.History)-in.MaxRecentTurns]
		recents = in.History[len(in.History)-in.MaxRecentTurns:]
	}

	digests := in.Digests
	if len(digests) == 0 && len(prefix) > 0 {
		digests = []llm.Message{synthesizeDigest(prefix)}
	}

	base := append([]llm.Message(nil), in.Base...)
	digest := append([]llm.Message(nil), digests...)
	rag := append([]llm.Message(nil), in.RAG...)
	recent := append([]llm.Message(nil), recents...)

	total := func() int {
		n := tokens.EstimateMessages(base) + tokens.EstimateMessages(digest) +
			tokens.EstimateMessages(rag) + tokens.EstimateMessages(recent)
		return n
	}

	if in.MaxTokens > 0 {
		for total() > in.MaxTokens && len(rag) > 0 {
			rag = rag[:len(rag)-1]
		}
		if total() > in.MaxTokens && len(digest) > 0 {
			shrunk, ok := shrinkLast(digest, in.MaxTokens-(total()-tokens.EstimateMessages(digest)))
			if ok {
				digest = shrunk
			} else {
				digest = digest[:len(digest)-1]
			}
		}
		for total() > in.MaxTokens && len(recent) > 0 {
			recent = recent[1:]
		}
		if total() > in.MaxTokens && len(base) > 0 {
			if shrunk, ok := shrinkLast(base, in.MaxTokens-(total()-tokens.EstimateMessages(base))); ok {
				base = shrunk
			}
		}
		if got := total(); got > in.MaxTokens {
			return nil, &BudgetError{Budget: in.MaxTokens, Tokens: got}
		}
	}

	out := make([]llm.Message, 0, len(base)+len(digest)+len(rag)+len(recent))
	out = append(out, base...)
	out = append(out, digest...)
	out = append(out, rag...)
	out = append(out, recent...)
	return out, nil
}

// synthesizeDigest renders older turns as one summary message.
func synthesizeDigest(prefix []llm.Message) llm.Message {
	var b strings.Builder
	for _, m := range prefix {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
	}
	return llm.Message{Role: llm.RoleSummary, Content: strings.TrimRight(b.String(), "\n")}
}

// shrinkLast truncates the last message in msgs so the layer's estimate
// fits layerBudget. ok is false when not even one word fits.
func shrinkLast(msgs []llm.Message, layerBudget int) ([]llm.Message, bool) {
	idx := len(msgs) - 1
	rest := tokens.EstimateMessages(msgs) - tokens.EstimateMessage(msgs[idx])
	allowed := layerBudget - rest
	truncated, ok := truncateWords(msgs[idx].Content, allowed-4)
	if !ok {
		return msgs, false
	}
	msgs[idx].Content = truncated
	return msgs, true
}

// truncateWords cuts content at word boundaries so its estimate fits
// budget, marking the cut with an ellipsis.
func truncateWords(content string, budget int) (string, bool) {
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
