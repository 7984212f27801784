package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/fitcheck/internal/cli"
	"github.com/Veraticus/fitcheck/internal/config"
	"github.com/Veraticus/fitcheck/internal/storage"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statusOnly, _ := cmd.Flags().GetBool("status")
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}

			db, err := storage.NewSQLiteStorage(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer func() { _ = db.Close() }()

			if !statusOnly {
				if err := db.Migrate(ctx); err != nil {
					return fmt.Errorf("failed to run migrations: %w", err)
				}
			}

			version, err := db.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			msg := fmt.Sprintf("Schema version %d of %d (%s)", version, storage.ExpectedSchemaVersion, db.Path())
			if version < storage.ExpectedSchemaVersion {
				_, err = fmt.Fprintln(out, cli.FormatWarning(msg))
				return err
			}
			_, err = fmt.Fprintln(out, cli.FormatSuccess(msg))
			return err
		},
	}
	cmd.Flags().Bool("status", false, "only report the schema version")
	return cmd
}
