package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath *string

var rootCmd = &cobra.Command{
	Use:   "fldata",
	Short: "fldata scrapes FutureLearn course data and loads it into the analytics database.",
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "config.json5", "Path of the pipeline configuration file.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
