package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/provcat/internal/api"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the index over HTTP",
		Long: `Start an HTTP API over the selected index. With --watch, dataset documents
already in the directory are ingested on start, and files created or
rewritten there afterwards are ingested as they settle. Ingest outcomes are
streamed to clients of /events.`,
		Example: `  provcat serve
  provcat serve --addr :8080
  provcat serve --watch ./incoming`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := api.NewServer(api.Config{
				Index:    cc.Index,
				Addr:     cc.Cfg.Server.Addr,
				WatchDir: cc.Cfg.Server.Watch,
				Logger:   cc.Logger,
			})
			return srv.Serve(ctx)
		},
	}

	// Bound through the config layer as server.addr and server.watch.
	cmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:5080)")
	cmd.Flags().String("watch", "", "Directory to ingest dataset documents from")
	return cmd
}
