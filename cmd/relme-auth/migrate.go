package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"hawx.me/code/relme-auth/data"
)

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Store.Kind != "postgres" {
				return errors.New("migrate requires the postgres store")
			}

			db, err := data.NewPostgres(cmd.Context(), cfg.Store.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to postgres: %w", err)
			}
			defer db.Close()

			return db.Migrate(cmd.Context(), data.Migrations(), log)
		},
	}
}
