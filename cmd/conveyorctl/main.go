// Command conveyorctl is the operator CLI for a running conveyord,
// talking to its admin HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "conveyorctl:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:           "conveyorctl",
		Short:         "Operate a running Conveyor daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("CONVEYOR_API_URL", "http://localhost:8180"),
		"base URL of the conveyord admin API")

	client := &apiClient{base: &addr}

	root.AddCommand(
		newQueuesCmd(client),
		newPauseCmd(client),
		newResumeCmd(client),
		newPurgeCmd(client),
		newEnqueueCmd(client),
		newJobsCmd(client),
		newJobCmd(client),
		newCancelCmd(client),
		newRetryCmd(client),
		newStatsCmd(client),
		newDLQCmd(client),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
