package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/featherdev/feather/internal/config"
	"github.com/featherdev/feather/internal/llm/orchestrator"
	"github.com/featherdev/feather/internal/llm/registry"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "feather",
		Short:         "Route chat requests across LLM providers with retries, rate limits, and breakers",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to feather.json (default: walk upward from cwd)")

	root.AddCommand(newChatCmd(&configPath))
	root.AddCommand(newReplCmd(&configPath))
	return root
}

// loadConfig resolves and parses the config file.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		found, err := config.Find("")
		if err != nil {
			return nil, "", err
		}
		path = found
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// buildDispatcher turns a config into a ready dispatcher. providerFilter,
// when set, restricts routing to that provider id.
func buildDispatcher(cfg *config.Config, providerFilter string) (*orchestrator.Dispatcher, error) {
	entries := cfg.Entries()
	if providerFilter != "" {
		kept := entries[:0]
		for _, e := range entries {
			if e.Key == providerFilter {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) == 0 {
		if providerFilter != "" {
			return nil, fmt.Errorf("provider %q is not configured or its API key env var is unset", providerFilter)
		}
		return nil, fmt.Errorf("no providers available: check the config and API key env vars")
	}

	reg := registry.New()
	for _, e := range entries {
		reg.Add(e)
	}

	strategy := registry.Strategy(cfg.Policy)
	switch strategy {
	case "":
		strategy = registry.StrategyFirst
	case registry.StrategyFirst, registry.StrategyRoundRobin, registry.StrategyCheapest:
	default:
		return nil, fmt.Errorf("unknown policy %q (want first, roundrobin, or cheapest)", cfg.Policy)
	}

	return orchestrator.New(reg, nil, nil, orchestrator.Options{Strategy: strategy}), nil
}
