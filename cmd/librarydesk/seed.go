package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"librarydesk/internal/app"
	"librarydesk/internal/seed"
)

func newSeedCmd() *cobra.Command {
	var opts seed.Options

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starter catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := app.OpenStore(ctx, cfg.Storage, log)
			if err != nil {
				return err
			}
			defer store.Close()

			svc := app.NewServices(store, cfg.Auth)
			report, err := seed.New(log, svc.Catalog, svc.Members, svc.Circulation).Run(ctx, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "books added: %d, skipped: %d, retired: %d\n", report.Added, report.Skipped, report.Retired)
			if report.UserMade {
				fmt.Fprintf(out, "created %s / %s\n", seed.TestUserEmail, seed.TestUserPassword)
			}
			if report.Borrowed != "" {
				fmt.Fprintf(out, "%s borrowed %q\n", seed.TestUserEmail, report.Borrowed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "retire the starter titles and add them again")
	cmd.Flags().BoolVar(&opts.WithTestUser, "with-test-user", false, "create "+seed.TestUserEmail)
	cmd.Flags().BoolVar(&opts.SampleBorrow, "sample-borrow", false, "have the test user borrow one book")
	return cmd
}
