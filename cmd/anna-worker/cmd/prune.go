package cmd

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/app"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/runtime/docker"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove exited worker containers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(false); err != nil {
			return err
		}
		rt, err := docker.New()
		if err != nil {
			return fmt.Errorf("failed to initialize Docker runtime: %w", err)
		}
		defer rt.Close()

		report, err := app.Prune(cmd.Context(), rt)
		if err != nil {
			return err
		}
		cmd.Printf("removed %d container(s), reclaimed %s\n",
			len(report.Removed), units.HumanSize(float64(report.SpaceReclaimed)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
