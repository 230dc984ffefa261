package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func reconcileCmd(opts *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one pass of the issuance reconciler",
		Long: `Resume stale open issuances once: transfers whose outcome was unknown,
assets transferred but not yet frozen, and frozen assets not yet recorded.
Uses the reconciler batch size and minimum age from configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			a, err := opts.buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Reconciler.RunOnce(ctx)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "visited %d: resolved %d, still open %d, failed %d\n",
					res.Visited, res.Resolved, res.StillOpen, res.Failed)
			})
		},
	}
}
