package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/featherdev/feather/internal/config"
	"github.com/featherdev/feather/internal/llm"
	"github.com/featherdev/feather/internal/llm/orchestrator"
	"github.com/featherdev/feather/internal/memory"
)

func newReplCmd(configPath *string) *cobra.Command {
	var (
		provider  string
		model     string
		streaming bool
	)

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive chat session with conversation memory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(*configPath)
			if err != nil {
				return runtimeError{err}
			}

			var (
				mu sync.Mutex
				d  *orchestrator.Dispatcher
			)
			d, err = buildDispatcher(cfg, provider)
			if err != nil {
				return runtimeError{err}
			}

			// Edits to feather.json take effect on the next prompt.
			stop, err := config.Watch(path, func(next *config.Config) {
				nd, berr := buildDispatcher(next, provider)
				if berr != nil {
					fmt.Fprintln(os.Stderr, "config reload skipped:", berr)
					return
				}
				mu.Lock()
				d = nd
				mu.Unlock()
				fmt.Fprintln(os.Stderr, "config reloaded")
			}, func(werr error) {
				fmt.Fprintln(os.Stderr, "config watch:", werr)
			})
			if err != nil {
				fmt.Fprintln(os.Stderr, "config watching disabled:", err)
			} else {
				defer stop()
			}

			mem := memory.NewManager(memory.NewInMemStore(), memory.Options{})
			sessionID := uuid.NewString()
			ctx := orchestrator.WithSession(cmd.Context(), sessionID)

			fmt.Fprintf(os.Stderr, "model %s, session %s (ctrl-d to quit)\n", model, sessionID)
			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				fmt.Fprint(os.Stderr, "you> ")
				if !scanner.Scan() {
					break
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}

				if _, err := mem.Append(ctx, sessionID, llm.Message{Role: llm.RoleUser, Content: input}); err != nil {
					return runtimeError{err}
				}
				history, err := mem.History(ctx, sessionID)
				if err != nil {
					return runtimeError{err}
				}
				msgs := make([]llm.Message, 0, len(history))
				for _, t := range history {
					msgs = append(msgs, t.Message())
				}

				mu.Lock()
				active := d
				mu.Unlock()

				req := llm.ChatRequest{Model: model, Messages: msgs}
				var content string
				if streaming {
					content, err = streamReply(ctx, active, req, cmd.OutOrStdout())
				} else {
					var resp llm.ChatResponse
					resp, err = active.Chat(ctx, req)
					if err == nil {
						content = resp.Content
						fmt.Fprintln(cmd.OutOrStdout(), content)
					}
				}
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					continue
				}

				if _, err := mem.Append(ctx, sessionID, llm.Message{Role: llm.RoleAssistant, Content: content}); err != nil {
					return runtimeError{err}
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "restrict routing to one provider id")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name or alias (required)")
	cmd.Flags().BoolVar(&streaming, "stream", false, "print tokens as they arrive")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

// streamReply prints chunks as they arrive and returns the full text.
func streamReply(ctx context.Context, d *orchestrator.Dispatcher, req llm.ChatRequest, out io.Writer) (string, error) {
	chunks, errs := d.StreamChat(ctx, req)
	var b strings.Builder
	for chunk := range chunks {
		b.WriteString(chunk.ContentDelta)
		fmt.Fprint(out, chunk.ContentDelta)
	}
	fmt.Fprintln(out)
	if err := <-errs; err != nil {
		return "", err
	}
	return b.String(), nil
}
