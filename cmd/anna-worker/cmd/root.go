// Package cmd holds the anna-worker command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/patrikpihlstrom/anna-worker/common/environment"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/config"
	"github.com/patrikpihlstrom/anna-worker/internal/worker/observability"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "anna-worker",
	Short: "Runs queued browser-automation jobs in Docker sandboxes",
	Long: `anna-worker pulls browser-automation jobs from the anna queue and runs each
one in its own Docker container, linked to a shared Selenium hub.

Configuration is read from an optional YAML file and then overridden by
environment variables:

  ANNA_HOST, ANNA_TOKEN       remote queue (required for "run")
  ANNA_MAX_CONCURRENT         simultaneously active jobs (default 2)
  ANNA_LISTEN_ADDR            intake listener address (default :8090)
  ANNA_JOURNAL_PATH           SQLite transition journal (disabled when empty)
  MATRIX_*                    optional transition notices`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", environment.StringOr("ANNA_CONFIG", ""), "YAML config file (env ANNA_CONFIG)")
}

// loadConfig reads the configuration and installs the logger. validate is
// false for maintenance commands that never contact the queue.
func loadConfig(validate bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if validate {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.Read(cfgFile)
	}
	if err != nil {
		return nil, err
	}
	observability.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}
