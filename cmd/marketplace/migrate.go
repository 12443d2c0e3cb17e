package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/coursemart/marketplace/internal/database"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{database.MigrateUp, database.MigrateDown},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, log, db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.Migrate(ctx, db, args[0])
			if err != nil {
				return err
			}

			for _, name := range applied {
				log.Info("migration applied", slog.String("file", name))
			}
			log.Info("migrations finished", slog.String("direction", args[0]), slog.Int("count", len(applied)))
			return nil
		},
	}
}
