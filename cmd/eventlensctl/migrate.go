package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"eventlens/internal/platform/config"
	"eventlens/internal/platform/postgres"
)

func migrateCmd(opts *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return errors.New("migrate requires store.driver=postgres")
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			db, err := postgres.Open(ctx, cfg.Store)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(db); err != nil {
				return err
			}
			version, err := postgres.Version(db)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]int64{"version": version}, func(w io.Writer) {
				fmt.Fprintf(w, "schema at version %d\n", version)
			})
		},
	})
	return cmd
}
