package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"assetlib/internal/api"
	"assetlib/internal/checkout"
	"assetlib/internal/registry"
	"assetlib/internal/services"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Browse the shared asset library",
	}
	assetsCmd.AddCommand(newAssetsListCommand(ctx))
	assetsCmd.AddCommand(newAssetsShowCommand(ctx))
	assetsCmd.AddCommand(newAssetsCreateCommand(ctx))
	return assetsCmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var opts registry.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets in the registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				assets, err := svc.registry.ListAssets(cmd.Context(), opts)
				if err != nil {
					return err
				}
				if assets == nil {
					assets = []registry.Asset{}
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.AssetListResponse{Assets: assets})
				}
				out := cmd.OutOrStdout()
				if len(assets) == 0 {
					fmt.Fprintln(out, "No assets found")
					return nil
				}
				rows := make([][]string, 0, len(assets))
				for _, asset := range assets {
					rows = append(rows, []string{
						asset.Name,
						asset.Version,
						asset.Creator,
						lockLabel(asset),
						asset.UpdatedAt,
					})
				}
				fmt.Fprint(out, renderTable(
					[]column{textCol("Name"), numCol("Version"), textCol("Creator"), textCol("Lock"), textCol("Updated")},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Search, "search", "", "Filter by name or keyword")
	cmd.Flags().StringVar(&opts.Author, "author", "", "Filter by creator")
	cmd.Flags().BoolVar(&opts.CheckedInOnly, "checked-in", false, "Only show assets that are not checked out")
	cmd.Flags().StringVar(&opts.SortBy, "sort", "", "Sort by name, author, updated or created")
	return cmd
}

func newAssetsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <asset>",
		Short: "Show one asset record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				asset, err := svc.registry.GetAsset(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.AssetResponse{Asset: *asset})
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Name:          %s\n", asset.Name)
				fmt.Fprintf(out, "Version:       %s\n", asset.Version)
				fmt.Fprintf(out, "Creator:       %s\n", asset.Creator)
				fmt.Fprintf(out, "Last modified: %s\n", valueOr(asset.LastModifiedBy, "-"))
				fmt.Fprintf(out, "Lock:          %s\n", lockLabel(*asset))
				fmt.Fprintf(out, "Materials:     %s\n", yesNo(asset.Materials))
				fmt.Fprintf(out, "Keywords:      %s\n", valueOr(strings.Join(asset.Keywords, ", "), "-"))
				if asset.Description != "" {
					fmt.Fprintf(out, "Description:   %s\n", asset.Description)
				}
				return nil
			})
		},
	}
}

func newAssetsCreateCommand(ctx *commandContext) *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "create <asset> <archive.zip>",
		Short: "Upload a new asset to the registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.Open(args[1])
			if err != nil {
				return services.Wrap(services.ErrValidation, "cli", "create", "open archive", err)
			}
			defer payload.Close()

			return ctx.withServices(cmd, func(svc *appServices) error {
				asset, err := svc.coordinator.Create(cmd.Context(), checkout.CreateRequest{
					Asset:    args[0],
					Version:  version,
					Filename: filepath.Base(args[1]),
					Payload:  payload,
				})
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, api.AssetResponse{Asset: *asset})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s at version %s\n", asset.Name, asset.Version)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Initial version (defaults to "+checkout.InitialVersion+")")
	return cmd
}

func lockLabel(asset registry.Asset) string {
	if !asset.IsCheckedOut {
		return "available"
	}
	if asset.Holder == "" {
		return "checked out"
	}
	return "checked out by " + asset.Holder
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
