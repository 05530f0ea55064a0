package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/featherdev/feather/internal/llm"
)

func newChatCmd(configPath *string) *cobra.Command {
	var (
		provider string
		model    string
		prompt   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send one prompt and print the response",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return runtimeError{err}
			}
			d, err := buildDispatcher(cfg, provider)
			if err != nil {
				return runtimeError{err}
			}

			resp, err := d.Chat(cmd.Context(), llm.ChatRequest{
				Model: model,
				Messages: []llm.Message{
					{Role: llm.RoleUser, Content: prompt},
				},
			})
			if err != nil {
				return runtimeError{err}
			}

			fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
			return nil
		},
	}

	cmd.Flags().StringVarP(&provider, "provider", "p", "", "restrict routing to one provider id")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name or alias (required)")
	cmd.Flags().StringVarP(&prompt, "query", "q", "", "prompt text (required)")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}
