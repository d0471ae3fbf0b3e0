package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"synthpanel/internal/app"
	"synthpanel/internal/config"
	"synthpanel/internal/infrastructure"
)

// cli carries state shared by every subcommand. logger is preset by tests;
// otherwise the process-wide logger is initialized from the config.
type cli struct {
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	c := &cli{logger: logger}

	rootCmd := &cobra.Command{
		Use:   "synthpanel",
		Short: "Synthesize weighted survey panels that reproduce reference aggregates",
		Long: `synthpanel resolves a target (population, mean value, proportion) for every
region and period, draws weighted records per group, calibrates them so
their weighted aggregates match the target, and persists one table per
period.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.loadConfig,
	}
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file (default synthpanel.yaml if present)")

	rootCmd.AddCommand(
		c.newGenerateCmd(),
		c.newVerifyCmd(),
		c.newResolveCmd(),
		c.newServeCmd(),
		c.newTargetsCmd(),
	)
	return rootCmd
}

func (c *cli) loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	if c.logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		c.logger = logger
	}
	return nil
}

// withApp runs fn against a fully wired application and releases it after
func (c *cli) withApp(fn func(*app.Application) error) error {
	application, err := app.NewApplication(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			c.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}()
	return fn(application)
}
