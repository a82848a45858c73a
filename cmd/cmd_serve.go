package cmd

import (
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pierrot-lc/snake-search/envconfig"
	"github.com/pierrot-lc/snake-search/server"
	"github.com/pierrot-lc/snake-search/tracker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the dashboard server",
		Args:    cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			initLogging()

			store, err := tracker.Open(envconfig.Runs())
			if err != nil {
				return err
			}
			defer store.Close()

			ln, err := net.Listen("tcp", envconfig.Host().Host)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.Serve(ctx, ln, store)
		},
	}
}
