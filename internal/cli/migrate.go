package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, _, err := openStore(cmd.Context(), cfg.Database, true)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info("database migrated", zap.String("driver", cfg.Database.Driver))
			return nil
		},
	}
}
