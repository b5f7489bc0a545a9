// Package cli implements the gantry command-line interface using Cobra.
// It provides commands for launching agent runs, inspecting tasks, and
// reconciling state after restarts.
package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gantryhq/gantry/internal/config"
	"github.com/gantryhq/gantry/internal/log"
)

var (
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "Gantry - containerized agent run orchestration",
	Long: `Gantry launches coding agents in ephemeral containers and supervises
them to a durable outcome. Every run leaves a completion record and its
staged artifacts behind, even when the container removed itself or the
host process died mid-run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		globalCfg, _ := config.LoadGlobal()
		debugDir := filepath.Join(config.GlobalConfigDir(), "debug")

		// Interactive sessions own the terminal; keep stderr quiet.
		interactive := false
		if cmd.Flags().Lookup("interactive") != nil {
			interactive, _ = cmd.Flags().GetBool("interactive")
		}

		if err := log.Init(log.Options{
			Verbose:       verbose,
			JSONFormat:    jsonOut,
			Interactive:   interactive,
			DebugDir:      debugDir,
			RetentionDays: globalCfg.Debug.RetentionDays,
		}); err != nil {
			// Log init failure is non-fatal, fall back to default logger.
			cmd.PrintErrf("Warning: failed to initialize debug logging: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	defer log.Close()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output in JSON format")
}
