// nmosctl drives a running NMOS node: it shows and changes the routing
// matrix, manages snapshots and mints admin API tokens.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	serverEnv = "NMOS_SERVER"
	tokenEnv  = "NMOS_TOKEN"

	defaultServer = "http://localhost:8080"
)

// options are the global flags shared by every subcommand.
type options struct {
	server  string
	token   string
	output  string
	timeout time.Duration
}

func (o *options) client() (*client, error) {
	return newClient(o.server, o.token, o.timeout)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "nmosctl",
		Short: "Control an NMOS node through its admin API",
		Long: `nmosctl talks to the /api/v1 surface of a running node.

The server and token default to $NMOS_SERVER and $NMOS_TOKEN.
Run 'nmosctl token' to mint a token from the node's JWT secret.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.server, "server", "s", envOr(serverEnv, defaultServer), "node base URL")
	flags.StringVarP(&opts.token, "token", "t", os.Getenv(tokenEnv), "bearer token")
	flags.StringVarP(&opts.output, "output", "o", "text", "output format (text, json)")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(
		matrixCmd(opts),
		refreshCmd(opts),
		routeCmd(opts),
		disconnectCmd(opts),
		snapshotCmd(opts),
		tokenCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "nmosctl %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
