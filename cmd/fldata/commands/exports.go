package commands

import (
	"log/slog"

	"fldata/lib/serviceutil"
	"fldata/services/exports"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(exportsCmd)
}

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "Downloads the dataset exports of the selected course runs and loads them.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()
		store := openStore(cfg)
		defer store.DB().Close()

		coreClient, _, _ := createClients(ctx, cfg)
		service := exports.Service{
			Core:             coreClient,
			Store:            store,
			OutputDir:        cfg.General.OutputDir,
			DatabaseDir:      cfg.Database.RunDir,
			UseCourseFolders: cfg.General.UseCourseFolders,
			SqlTemplates:     loadSqlTemplates(cfg),
		}

		selected := selectCourses(ctx, store, cfg)
		outcomes, err := service.Download(ctx, selected)
		if err != nil {
			serviceutil.Fatal("download failed", err)
		}
		for _, ref := range selected {
			failed := outcomes.Failed(ref.Slug, ref.Version)
			if len(failed) > 0 {
				slog.Warn("some datasets failed to download",
					"slug", ref.Slug, "version", ref.Version, "files", failed)
			}
		}
	},
}
