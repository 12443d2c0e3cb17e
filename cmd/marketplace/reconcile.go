package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/coursemart/marketplace/internal/reconcile"
)

func reconcileCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "List pending purchases whose payment outcome never arrived",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, log, db, err := openDatabase(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			rc := cfg.Reconcile
			if cmd.Flags().Changed("older-than") {
				rc.OlderThan = olderThan
			}
			if cmd.Flags().Changed("limit") {
				rc.Limit = limit
			}

			stale, err := reconcile.NewReporter(db, rc, log).Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, p := range stale {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s %s\t%s\n",
					p.ID, p.UserID, p.CourseID, p.Amount.StringFixed(2), p.Currency, p.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "report purchases pending for longer than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum purchases to report")

	return cmd
}
