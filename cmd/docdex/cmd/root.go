// Package cmd provides the CLI commands for docdex.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docdex/docdex/pkg/version"
)

// Persistent flags shared by all commands.
var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the docdex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docdex",
		Short: "Local document catalog with hybrid search",
		Long: `docdex catalogs documents under configured roots, extracts their
text, and serves hybrid BM25 + semantic search over the result.

The catalog is incremental: re-running 'docdex index' only processes
files that actually changed, and 'docdex watch' follows live changes.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("docdex version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file or directory (default: state dir)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
