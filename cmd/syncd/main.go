// syncd is the synchronization daemon for the regulation portal. It serves
// the HTTP API for the portal frontend and offers one-shot commands for
// operators running syncs and inspecting conflicts from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// rootOptions holds global flags shared by all commands.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "syncd",
		Short: "Bidirectional sync daemon for agency regulation records",
		Long: `syncd reconciles each agency's canonical records against snapshots
harvested from the agency's external systems, detecting and persisting
conflicts for later resolution.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newConflictsCommand(opts))
	cmd.AddCommand(newResolveCommand(opts))
	cmd.AddCommand(newDeleteRecordCommand(opts))

	return cmd
}
