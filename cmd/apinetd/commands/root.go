// Package commands holds the apinetd command tree: serve runs an API server
// with the demo actions, call invokes an action on a running server.
package commands

import (
	"github.com/spf13/cobra"
)

// Execute runs the command line.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "apinetd",
		Short:         "Session-multiplexed RPC server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCmd(), callCmd())
	return root
}
