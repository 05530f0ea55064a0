// Package tokens estimates token counts for budgeting context windows.
// The heuristic is approximate on purpose; providers report exact usage
// after the fact.
package tokens

import (
	"strings"

	"github.com/featherdev/feather/internal/llm"
)

// perMessageOverhead covers role names and separators.
const perMessageOverhead = 4

// Estimate returns a rough token count for text, about 4 characters per
// token for English and code, with a discount for whitespace-heavy text.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	chars := len([]rune(text))
	whitespace := strings.Count(text, " ") + strings.Count(text, "\n") + strings.Count(text, "\t")

	estimated := (chars / 4) + (whitespace / 6)
	if estimated < 1 {
		return 1
	}
	return estimated
}

// EstimateMessage covers one message including formatting overhead.
func EstimateMessage(m llm.Message) int {
	total := Estimate(string(m.Role)) + Estimate(m.Content)
	if m.ToolName != "" {
		total += Estimate(m.ToolName)
	}
	return total + perMessageOverhead
}

// EstimateMessages covers a whole conversation.
func EstimateMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
