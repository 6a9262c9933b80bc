package main

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"librarydesk/internal/client"
	"librarydesk/internal/drill"
	"librarydesk/internal/lib/sl"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newDrillCmd() *cobra.Command {
	var (
		target      string
		email       string
		password    string
		concurrency int
		window      time.Duration
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Run consistency experiments against a live server",
		Long: "drill signs up throwaway readers, fires concurrent borrows and returns at\n" +
			"the target and checks that stock and the audit stay consistent.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if password == "" {
				var err error
				if password, err = promptPassword(cmd.ErrOrStderr(), email); err != nil {
					return err
				}
			}

			t, err := drill.Connect(ctx, client.New(target), email, password, concurrency)
			if err != nil {
				return err
			}

			engine := drill.NewEngine(sl.Discard(), drill.WithObservation(window, window/3))
			t.Register(engine)

			out := cmd.OutOrStdout()
			report := out
			if asJSON {
				report = cmd.ErrOrStderr()
			}
			results, err := engine.RunAll(ctx, report)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			}

			failed := 0
			for _, r := range results {
				if !r.SteadyStateValid || !r.HypothesisHeld {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d experiments failed", failed, len(results))
			}
			if len(results) == 0 {
				return errors.New("no experiments ran")
			}
			fmt.Fprintf(report, "\nall %d experiments passed\n", len(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "http://localhost:8080", "base URL of the server")
	cmd.Flags().StringVar(&email, "admin-email", "", "admin account email")
	cmd.Flags().StringVar(&password, "admin-password", "", "admin account password (prompted when omitted)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "parallel requests per burst")
	cmd.Flags().DurationVar(&window, "observe", 3*time.Second, "observation window per experiment")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	_ = cmd.MarkFlagRequired("admin-email")
	return cmd
}
