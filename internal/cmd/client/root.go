package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs the root Cobra command for the taskqd client. It
// registers the task and dlq command groups plus standalone inspection
// commands.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskqd",
		Short: "taskqd client commands",
	}
	root.PersistentFlags().String("addr", baseURLFromEnv(), "server base URL (or TASKQ_HTTP)")
	root.AddCommand(NewTaskCommand())
	root.AddCommand(NewDLQCommand())
	root.AddCommand(newStatsCommand())
	root.AddCommand(newHealthCommand())
	return root
}

func addrFromFlags(cmd *cobra.Command) string {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = baseURLFromEnv()
	}
	return addr
}
