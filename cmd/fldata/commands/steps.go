package commands

import (
	"fldata/lib/serviceutil"
	"fldata/services/stepinfo"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stepsCmd)
}

var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "Scrapes step details of the selected course runs into step_info files.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()
		store := openStore(cfg)
		defer store.DB().Close()

		_, _, stepsClient := createClients(ctx, cfg)
		service := stepinfo.NewService(stepsClient, cfg.General.OutputDir)

		err := service.Export(ctx, selectCourses(ctx, store, cfg))
		if err != nil {
			serviceutil.Fatal("step export failed", err)
		}
	},
}
