// Package cmd defines and implements the CLI commands for the annotator executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/uniprot-annotator/internal/app"
	"github.com/JakeFAU/uniprot-annotator/internal/config"
	"github.com/JakeFAU/uniprot-annotator/internal/logging"
)

// envKeyType is the key for storing the command environment in the context.
type envKeyType string

const envKey envKeyType = "env"

// env carries what PersistentPreRunE resolved for the subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can swap the
// metrics registry.
var newApp = func(ctx context.Context, e *env, progressOut io.Writer) (*app.App, error) {
	return app.Build(ctx, e.cfg, e.logger, app.Options{
		ProgressOut: progressOut,
		Registerer:  prometheus.DefaultRegisterer,
	})
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "annotator",
		Short: "Annotate protein tables with UniProt function text.",
		Long: `annotator reads a tab-delimited table, looks up every UniProt identifier in
the chosen column on uniprot.org, and writes a copy of the table with a
summary column holding each protein's functional annotation.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, &env{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := resolveEnv(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); ANNOTATOR_* env vars override it")

	cmd.AddCommand(newAnnotateCmd())
	cmd.AddCommand(newLookupCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("command environment not initialized")
	}
	return e, nil
}

// closeApp releases app resources, logging rather than failing the command.
func closeApp(ctx context.Context, a *app.App, logger *zap.Logger) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("Failed to close application", zap.Error(err))
	}
}

// Execute is the main entry point. Failures are logged through the configured
// logger once it exists, and the process exits 1.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		if logger := zap.L(); logger.Core().Enabled(zapcore.ErrorLevel) {
			logger.Error("Command execution failed", zap.Error(err))
			_ = logger.Sync()
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
