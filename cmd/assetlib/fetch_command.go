package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"assetlib/internal/api"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "fetch <asset>",
		Short: "Download an asset archive into the downloads folder",
		Long: `Download the latest archive of an asset to <downloads_dir>/<asset>.zip.

An extraction left over from an earlier archive keeps being used by launches
until it is refreshed. Pass --refresh to discard it so the next launch
extracts the new archive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				result, err := svc.stager.Fetch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				refreshed := false
				if result.Stale && refresh {
					if err := svc.stager.Invalidate(cmd.Context(), args[0]); err != nil {
						return err
					}
					result.Stale = false
					refreshed = true
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.FetchResponse{Fetch: api.FromFetch(result)})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Fetched %s (%s) to %s\n", result.Asset, humanize.IBytes(uint64(result.Bytes)), result.Archive)
				switch {
				case refreshed:
					fmt.Fprintln(out, "Discarded the previous extraction; the next launch extracts the new archive")
				case result.Stale:
					fmt.Fprintln(out, "An earlier extraction is still in place; rerun with --refresh to use the new archive")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Discard a stale extraction after downloading")
	return cmd
}
