package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rl1809/registration/internal/adapter/storage"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			dialect, err := storage.ParseDialect(a.cfg.Database.Driver)
			if err != nil {
				return err
			}
			db, err := storage.Open(cmd.Context(), dialect, a.cfg.Database.DSN, storage.PoolConfig{MaxOpenConns: 1})
			if err != nil {
				return fmt.Errorf("failed to connect %s: %w", dialect, err)
			}
			defer db.Close()

			if err := storage.Migrate(cmd.Context(), db, dialect); err != nil {
				return err
			}
			a.log.Info("migrations applied", slog.String("driver", string(dialect)))
			return nil
		},
	}
}
