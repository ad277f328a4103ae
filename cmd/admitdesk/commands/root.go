// Package commands implements the AdmitDesk CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "admitdesk",
		Short: "AdmitDesk - university admissions portal",
		Long: `AdmitDesk runs the admissions portal backend: conversational agent
management, knowledge document ingestion, and messaging-channel pairing.

Examples:
  admitdesk serve
  admitdesk serve --config ./config.yaml
  admitdesk agent list --operator ops-1
  admitdesk db status`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newAgentCmd(),
		newDBCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
