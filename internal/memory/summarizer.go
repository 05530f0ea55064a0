package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/featherdev/feather/internal/llm"
)

// Summarizer condenses a block of turns into one summary string.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (string, error)
}

// JoinSummarizer is the default: no model call, just a compact transcript
// with role and timestamp markers.
type JoinSummarizer struct{}

// Summarize implements Summarizer.
func (JoinSummarizer) Summarize(_ context.Context, turns []Turn) (string, error) {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "[%s@%s] %s", t.Role, t.CreatedAt.UTC().Format("15:04:05"), t.Content)
	}
	return sb.String(), nil
}

const summaryPrompt = "Condense the following conversation into a short factual summary. " +
	"Keep decisions, open questions, and concrete values. Do not add commentary."

// LLMSummarizer asks a chat provider to condense the transcript. It falls
// back to the plain join when the call fails.
type LLMSummarizer struct {
	Provider llm.ChatProvider
	Model    string
}

// Summarize implements Summarizer.
func (s LLMSummarizer) Summarize(ctx context.Context, turns []Turn) (string, error) {
	transcript, _ := JoinSummarizer{}.Summarize(ctx, turns)

	resp, err := s.Provider.Chat(ctx, llm.ChatRequest{
		Model: s.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: summaryPrompt},
			{Role: llm.RoleUser, Content: transcript},
		},
	})
	if err != nil {
		if llm.IsAborted(err) {
			return "", err
		}
		return transcript, nil
	}
	if strings.TrimSpace(resp.Content) == "" {
		return transcript, nil
	}
	return resp.Content, nil
}
