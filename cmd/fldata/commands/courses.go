package commands

import (
	"os"

	"fldata/lib/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(coursesCmd)
}

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "Scrapes the course listing of every configured organisation and prints it.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()

		_, adminClient, _ := createClients(ctx, cfg)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Slug", "Version", "Status", "Start", "End", "Weeks", "Datasets", "Organisation",
		})

		for _, org := range cfg.General.Organisations {
			runs, err := adminClient.Courses(ctx, org)
			if err != nil {
				serviceutil.Fatal("failed to scrape organisation", err)
			}
			for _, run := range runs {
				t.AppendRow(table.Row{
					run.Slug, run.Version, run.Status,
					run.StartDate.Format("2006-01-02"),
					run.EndDate.Format("2006-01-02"),
					run.DurationWeeks, len(run.Datasets), run.Organisation,
				})
			}
		}
		t.Render()
	},
}
