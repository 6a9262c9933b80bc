package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"librarydesk/internal/app"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the SQL schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			store, err := app.OpenSQL(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			defer store.Close()

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if direction == "down" {
				err = store.MigrateDown()
			} else {
				err = store.MigrateUp()
			}
			if err != nil {
				return err
			}

			v, dirty, err := store.MigrationVersion()
			if err != nil {
				return err
			}
			log.Info("migrations applied")
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", v, dirty)
			return nil
		},
	}
}
