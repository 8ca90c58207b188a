package cmd

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/puppals/mediastore/internal/app"
	"github.com/puppals/mediastore/internal/config"
	"github.com/puppals/mediastore/internal/db"
	"github.com/puppals/mediastore/internal/service"
	"github.com/spf13/cobra"
)

func GCCmd() *cobra.Command {
	var (
		dryRun bool
		grace  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Remove orphan blobs, dangling records and stale post links",
		Long: `Reconciles the blob store, file records and post file lists after
interrupted uploads or failed compensations. Blobs and pending writes younger
than the grace period are left alone so in-flight uploads are not disturbed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(cfg *config.Config, database *sqlx.DB) error {
				ctx := cmd.Context()

				err := db.RunMigrations(ctx, database.DB, cfg.DBDriver)
				if err != nil {
					return err
				}

				a, err := app.Assemble(ctx, cfg, database)
				if err != nil {
					return err
				}

				if !cmd.Flags().Changed("grace") {
					grace = cfg.GCGracePeriod
				}

				res, err := a.FileService.CollectGarbage(ctx, service.GCOptions{
					DryRun:      dryRun,
					GracePeriod: grace,
				})
				if err != nil {
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without removing it")
	cmd.Flags().DurationVar(&grace, "grace", time.Hour, "skip objects younger than this (default GC_GRACE_PERIOD)")
	return cmd
}
