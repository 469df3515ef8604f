package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"assetlib/internal/api"
	"assetlib/internal/checkout"
	"assetlib/internal/journal"
	"assetlib/internal/services"
)

func newCheckoutCommand(ctx *commandContext) *cobra.Command {
	var holder string

	cmd := &cobra.Command{
		Use:   "checkout <asset>",
		Short: "Take the edit lock on an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				asset, err := svc.coordinator.Checkout(cmd.Context(), args[0], holderFlag(svc.cfg, holder))
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.AssetResponse{Asset: *asset})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Checked out %s (%s)\n", args[0], lockLabel(*asset))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&holder, "holder", "", "Lock holder (defaults to identity.holder)")
	return cmd
}

func newCheckinCommand(ctx *commandContext) *cobra.Command {
	var (
		holder     string
		note       string
		keywords   []string
		hasTexture bool
		bumpFlag   string
		version    string
	)

	cmd := &cobra.Command{
		Use:   "checkin <asset> <archive.zip>",
		Short: "Upload new content and release the edit lock",
		Long: `Upload an archive as the next version of an asset, then commit its metadata.

If the content upload succeeds but the metadata commit fails, the check-in is
recorded as partially committed. Complete it with 'assetlib checkin resume <id>'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bump, err := checkout.ParseBump(bumpFlag)
			if err != nil {
				return err
			}
			payload, err := os.Open(args[1])
			if err != nil {
				return services.Wrap(services.ErrValidation, "cli", "checkin", "open archive", err)
			}
			defer payload.Close()

			return ctx.withServices(cmd, func(svc *appServices) error {
				result, err := svc.coordinator.Checkin(cmd.Context(), checkout.CheckinRequest{
					Asset:      args[0],
					Holder:     holderFlag(svc.cfg, holder),
					Filename:   filepath.Base(args[1]),
					Payload:    payload,
					Note:       note,
					Keywords:   keywords,
					HasTexture: hasTexture,
					Version:    version,
					Bump:       bump,
				})
				var partial *checkout.PartialCheckinError
				if errors.As(err, &partial) && ctx.JSONMode() {
					if encErr := writeJSON(cmd, api.NewErrorResponse(err)); encErr != nil {
						return encErr
					}
				}
				if err != nil {
					return err
				}
				return printCheckin(cmd, ctx, result)
			})
		},
	}

	cmd.Flags().StringVar(&holder, "holder", "", "Lock holder (defaults to identity.holder)")
	cmd.Flags().StringVarP(&note, "note", "m", "", "Commit note")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "Keywords (comma separated)")
	cmd.Flags().BoolVar(&hasTexture, "texture", false, "Mark the asset as textured")
	cmd.Flags().StringVar(&bumpFlag, "bump", "minor", "Version component to increment: major, minor or patch")
	cmd.Flags().StringVar(&version, "version", "", "Explicit version (overrides --bump)")

	cmd.AddCommand(newCheckinResumeCommand(ctx))
	cmd.AddCommand(newCheckinListCommand(ctx))
	return cmd
}

func newCheckinResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Retry the metadata commit of a partial check-in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				result, err := svc.coordinator.ResumeCheckin(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printCheckin(cmd, ctx, result)
			})
		},
	}
}

func newCheckinListCommand(ctx *commandContext) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded check-ins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				var (
					sagas []journal.Saga
					err   error
				)
				if pending {
					sagas, err = svc.coordinator.PendingCheckins(cmd.Context())
				} else {
					sagas, err = svc.coordinator.Checkins(cmd.Context())
				}
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.CheckinListResponse{Checkins: api.FromSagas(sagas)})
				}
				out := cmd.OutOrStdout()
				if len(sagas) == 0 {
					fmt.Fprintln(out, "No check-ins recorded")
					return nil
				}
				rows := make([][]string, 0, len(sagas))
				for _, saga := range sagas {
					rows = append(rows, []string{
						saga.ID,
						saga.Asset,
						saga.Version,
						string(saga.Status),
						yesNo(saga.Status.Resumable()),
						fmt.Sprintf("%d", saga.Attempts),
						saga.CreatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Fprint(out, renderTable(
					[]column{textCol("ID"), textCol("Asset"), numCol("Version"), textCol("Status"), textCol("Resumable"), numCol("Attempts"), textCol("Created")},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "Only show check-ins awaiting a metadata commit")
	return cmd
}

func printCheckin(cmd *cobra.Command, ctx *commandContext, result *checkout.CheckinResult) error {
	if ctx.JSONMode() {
		return writeJSON(cmd, api.CheckinResponse{Checkin: api.FromCheckinResult(result)})
	}
	verb := "Checked in"
	if result.Resumed {
		verb = "Completed check-in of"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s at version %s (check-in %s)\n", verb, result.Asset, result.Version, result.SagaID)
	return nil
}
