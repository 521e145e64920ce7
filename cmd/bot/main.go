package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/genai-tgbot-go/internal/config"
	"github.com/genai-tgbot-go/internal/handlers"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "bot",
		Short:         "Telegram bot that routes commands to generative AI services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "configs/config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "Path to .env file")

	root.AddCommand(newLimitsCommand(opts))
	return root
}

func newLimitsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "limits",
		Short: "Print the effective per-command rate limits and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			limits, err := handlers.EffectiveLimits(cfg.RateLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(limits) == 0 {
				fmt.Fprintln(out, "rate limiting disabled")
				return nil
			}
			for _, c := range handlers.Commands() {
				if rule, ok := limits[c.Name]; ok {
					fmt.Fprintf(out, "/%-12s %3d per %s\n", c.Name, rule.Quota, rule.Window)
				}
			}
			return nil
		},
	}
}

func (o *options) load() (*config.Config, error) {
	// A missing .env file is fine; the environment may already be set.
	if err := godotenv.Load(o.envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load %s: %w", o.envFile, err)
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
