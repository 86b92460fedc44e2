package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"kpiledger/internal/app"
	"kpiledger/internal/exporter"
	"kpiledger/internal/storage"
)

func (c *cli) templateCmd() *cobra.Command {
	var opts exporter.TemplateOptions
	cmd := &cobra.Command{
		Use:     "template OUT.xlsx",
		Short:   "Write an empty KPI workbook ready to fill in and upload.",
		Example: "  kpictl template A1-kpi.xlsx --well A1 --stages 30",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.SheetName == "" {
				cfg, err := c.config()
				if err != nil {
					return err
				}
				opts.SheetName = cfg.Ingest.SheetName
			}
			if err := exporter.WriteTemplateFile(args[0], opts); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote template %s (sheet %q)\n", args[0], opts.SheetName)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.SheetName, "sheet", "", "Sheet name (defaults to the configured ingest sheet).")
	cmd.Flags().StringVar(&opts.Well, "well", "", "Add a Well column pre-filled with this name.")
	cmd.Flags().IntVar(&opts.Stages, "stages", 0, "Pre-number this many stage rows.")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Apply or inspect the Postgres schema migrations.",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.Storage.DatabaseURL) == "" {
				return errors.New("migrate needs a database URL: set --database-url or KPI_STORAGE_DATABASE_URL")
			}

			opts := app.StoreOptions(cfg.Storage, c.logger)
			db, err := storage.Connect(cmd.Context(), opts.DatabaseURL, opts.DB)
			if err != nil {
				return err
			}
			defer db.Close()

			if len(args) == 1 && args[0] == "status" {
				return storage.MigrationStatus(db)
			}
			if err := storage.RunMigrations(cmd.Context(), db); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
