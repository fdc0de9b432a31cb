// Package cli implements the tokenrisk command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbd888/tokenrisk/internal/config"
	"github.com/mbd888/tokenrisk/internal/logging"
)

// BuildInfo is stamped into the binary by ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// NewRootCmd builds the tokenrisk command tree.
func NewRootCmd(info BuildInfo) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "tokenrisk",
		Short: "Explainable risk scoring for ERC-20 style tokens",
		Long: "Collects market, contract, compliance, governance and social signals for a token,\n" +
			"normalizes them into category scores and combines them under a named profile\n" +
			"into a 0-100 risk score with a tier and the red flags that raised it.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")

	env := &environment{logLevel: &logLevel}
	root.AddCommand(
		newAssessCmd(env),
		newBatchCmd(env),
		newProfilesCmd(env),
		newHistoryCmd(env),
		newMigrateCmd(env),
		newServeCmd(env, info),
		newVersionCmd(info),
	)
	return root
}

// Execute runs the root command.
func Execute(info BuildInfo) {
	if err := NewRootCmd(info).Execute(); err != nil {
		os.Exit(1)
	}
}

// environment loads configuration lazily, once flags are parsed.
type environment struct {
	logLevel *string
}

func (e *environment) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *e.logLevel != "" {
		cfg.LogLevel = *e.logLevel
	}
	// Logs go to stderr so stdout stays parseable.
	logger := logging.NewWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
