package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/patrikpihlstrom/anna-worker/common/version"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the worker until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		slog.Info("starting anna-worker", "version", version.Version, "commit", version.GitCommit, "built", version.BuildTime)

		worker, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer worker.Stop()

		return worker.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
