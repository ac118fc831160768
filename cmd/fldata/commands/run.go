package commands

import (
	"log/slog"

	"fldata/lib/serviceutil"
	"fldata/services/directory"
	"fldata/services/exports"
	"fldata/services/stepinfo"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Runs the configured pipeline stages in order.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()
		store := openStore(cfg)
		defer store.DB().Close()

		needsLogin := cfg.Stages.CourseExport || cfg.Stages.StepExport || cfg.Stages.Download
		var pipeline struct {
			directory directory.Service
			stepinfo  stepinfo.Service
			fetcher   exports.Service
		}
		if needsLogin {
			coreClient, adminClient, stepsClient := createClients(ctx, cfg)
			pipeline.directory = directory.NewService(adminClient, store, cfg.General.OutputDir)
			pipeline.stepinfo = stepinfo.NewService(stepsClient, cfg.General.OutputDir)
			pipeline.fetcher = exports.Service{
				Core:             coreClient,
				Store:            store,
				OutputDir:        cfg.General.OutputDir,
				DatabaseDir:      cfg.Database.RunDir,
				UseCourseFolders: cfg.General.UseCourseFolders,
				SqlTemplates:     loadSqlTemplates(cfg),
			}
		}

		if cfg.Stages.CourseExport {
			slog.Info("stage: course export")
			err := pipeline.directory.Export(ctx, cfg.General.Organisations)
			if err != nil {
				serviceutil.Fatal("course export failed", err)
			}
		}
		if cfg.Stages.CourseDbExport {
			slog.Info("stage: course db export")
			err := directory.LoadToStore(ctx, store, cfg.General.OutputDir)
			if err != nil {
				serviceutil.Fatal("course db export failed", err)
			}
		}

		selected := selectCourses(ctx, store, cfg)
		slog.Info("selected course runs", "count", len(selected))

		if cfg.Stages.StepExport {
			slog.Info("stage: step export")
			err := pipeline.stepinfo.Export(ctx, selected)
			if err != nil {
				serviceutil.Fatal("step export failed", err)
			}
		}
		if cfg.Stages.StepDbExport {
			slog.Info("stage: step db export")
			err := stepinfo.LoadToStore(ctx, store, cfg.General.OutputDir)
			if err != nil {
				serviceutil.Fatal("step db export failed", err)
			}
		}

		outcomes := exports.NewOutcomes()
		if cfg.Stages.Download {
			slog.Info("stage: download")
			var err error
			outcomes, err = pipeline.fetcher.Download(ctx, selected)
			if err != nil {
				serviceutil.Fatal("download failed", err)
			}
		}
		if cfg.Stages.Postprocess {
			slog.Info("stage: postprocess")
			processor := exports.NewPostProcessor(store, cfg.Rscript.Script, cfg.Rscript.ConfigFile)
			err := processor.Process(ctx, selected, outcomes)
			if err != nil {
				serviceutil.Fatal("postprocess failed", err)
			}
		}

		slog.Info("pipeline finished")
	},
}
