package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"assetlib/internal/daemon"
	"assetlib/internal/logging"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		Long: `Serve the asset library over HTTP on paths.api_bind until interrupted.

Only one daemon may run per state directory. Set paths.api_token to require
a bearer token on every request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.openServices(cmd.Context())
			if err != nil {
				return err
			}
			d, err := daemon.New(svc.cfg, daemon.Services{
				Catalog:   svc.registry,
				Checkouts: svc.coordinator,
				Launcher:  svc.pipeline,
				Fetcher:   svc.stager,
				Tools:     svc.locator,
				Closer:    svc.journal,
			}, svc.logger)
			if err != nil {
				_ = svc.journal.Close()
				return err
			}
			defer d.Close()

			if err := d.Start(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (Ctrl-C to stop)\n", d.Addr())

			<-cmd.Context().Done()
			svc.logger.Info("assetlib daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
			return nil
		},
	}
}
