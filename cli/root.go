package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "netblast",
		Short: "netblast measures LAN throughput over TCP and UDP",
		Long: `netblast is a client/server speed tester. The server broadcasts an offer on
a well-known UDP port; clients discover it, then hammer it with the requested
number of concurrent TCP and UDP transfers and report throughput, loss and
jitter per transfer.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(ServerCommand())
	rootCmd.AddCommand(ClientCommand())

	return rootCmd
}
