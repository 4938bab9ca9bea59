package main

import (
	"fmt"
	"time"

	"doppa/internal/logger"
	"doppa/internal/postgres"
	"doppa/internal/release"

	"github.com/spf13/cobra"
)

func newReleaseCommand() *cobra.Command {
	var create bool

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Print the next release identifier, or create it with --create",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfiguration()
			if err != nil {
				return err
			}

			db, err := postgres.Open(cfg.DBUrl, logger.For("postgres"))
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			catalog := postgres.NewCatalog(db, logger.For("catalog"))

			if create {
				rel, err := catalog.CreateRelease(cmd.Context(), time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), rel.String())
				return nil
			}

			latest, err := catalog.LatestRelease(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), release.Next(latest, time.Now()).String())
			return nil
		},
	}

	cmd.Flags().BoolVar(&create, "create", false, "Record the next release in the catalog")
	return cmd
}
