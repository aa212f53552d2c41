// Command chatctl talks to a running chat gateway: it sends chat turns and
// shows the map commands embedded in the reply.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8787"

type options struct {
	server  string
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Client for the Anubhav chat gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("CHATCTL_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "gateway base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 20*time.Second, "request timeout")

	root.AddCommand(newAskCmd(opts), newHealthCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatctl:", err)
		os.Exit(1)
	}
}
