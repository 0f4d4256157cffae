package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/knoguchi/vidqa/internal/config"
	"github.com/knoguchi/vidqa/internal/service"
	"github.com/knoguchi/vidqa/internal/telemetry"
)

// cli carries state shared by subcommands for one invocation.
type cli struct {
	verbose    bool
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
	app    *service.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "vidqa",
		Short: "Query indexed video transcripts",
		Long: `vidqa runs the retrieval pipeline of the question answering service
locally against the configured vector backend and Ollama instance.

Configuration comes from the environment and an optional .env file, the
same variables the ragd server reads.

Example usage:
  vidqa retrieve "how do goroutines work" --video aircAruvnKk
  vidqa ask "what is a channel?" --video aircAruvnKk --stream
  vidqa search "scheduler" --video aircAruvnKk --limit 5
  vidqa mmr "goroutines" --top-k 4 --lambda 0.5`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVar(&c.jsonOutput, "json", false, "output as JSON")

	root.AddCommand(
		newRetrieveCmd(c),
		newAskCmd(c),
		newSearchCmd(c),
		newMMRCmd(c),
		newPingCmd(c),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c.cfg = cfg

	level := telemetry.ParseLevel(cfg.LogLevel)
	if c.verbose {
		level = slog.LevelDebug
	} else if level < slog.LevelWarn {
		// keep stdout readable; pipeline logs go to stderr anyway
		level = slog.LevelWarn
	}
	c.logger = telemetry.NewLogger(os.Stderr, level, cfg.OTelServiceName, false)
	slog.SetDefault(c.logger)
	return nil
}

// connect builds the application on first use.
func (c *cli) connect(ctx context.Context) (*service.App, error) {
	if c.app != nil {
		return c.app, nil
	}
	app, err := service.New(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.app = app
	return app, nil
}

// checkCount rejects chunk counts above RETRIEVAL_MAX_TOP_K.
func (c *cli) checkCount(flag string, n int) error {
	if n > c.cfg.MaxTopK {
		return fmt.Errorf("%s must not exceed %d (RETRIEVAL_MAX_TOP_K)", flag, c.cfg.MaxTopK)
	}
	return nil
}
