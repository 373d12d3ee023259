package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the climbsync command tree
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "climbsync",
		Short: "Offline-first sync engine for the climbing tracker",
		Long: `climbsync owns the local store of a device profile, pushes queued local
edits to the sync server, pulls remote changes and keeps conflicts for review.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to config file (overrides CLIMBSYNC_CONFIG)")
	rootCmd.PersistentFlags().String("db", "", "Path to the SQLite database (overrides database.path)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json or yaml")

	rootCmd.AddCommand(
		newServeCmd(),
		newSyncCmd(),
		newStatusCmd(),
		newEnableCmd(),
		newDisableCmd(),
		newOutboxCmd(),
		newConflictsCmd(),
		newAuditCmd(),
		newRowsCmd(),
		newHashKeyCmd(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}
