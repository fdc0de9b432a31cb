package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbd888/tokenrisk/migrations"
)

func newMigrateCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <command> [version]",
		Short: "Run database migrations against DATABASE_URL",
		Long: "Runs the embedded goose migrations. Commands: " + strings.Join(migrations.Commands, ", ") + ".\n" +
			"up-to and down-to take the target version.",
		Example: "  tokenrisk migrate up\n  tokenrisk migrate down-to 0",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env.load(cmd)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}

			ctx, cancel := signalContext(cmd)
			defer cancel()

			db, err := openPostgres(ctx, cfg.DatabaseURL, false)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := migrations.Run(ctx, db, args[0], args[1:]...); err != nil {
				return err
			}
			logger.Info("migration finished", "command", args[0])
			return nil
		},
	}
}
