package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"assetlib/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage extracted asset directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List extracted asset directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			stager := staging.NewFromConfig(cfg)
			dirs, err := stager.List()
			if err != nil {
				return fmt.Errorf("list extracted directories: %w", err)
			}

			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}
			if ctx.JSONMode() {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"import_root":      stager.ImportRoot(),
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No extracted assets found")
				return nil
			}
			fmt.Fprintf(out, "Import root: %s\n\n", stager.ImportRoot())

			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				age := time.Since(dir.ModTime).Truncate(time.Minute)
				rows = append(rows, []string{dir.Name, formatDuration(age), humanize.IBytes(uint64(dir.Size))})
			}
			fmt.Fprint(out, renderTable(
				[]column{textCol("Asset"), numCol("Age"), numCol("Size")},
				rows,
			))
			fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(dirs), humanize.IBytes(uint64(totalSize)))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftovers of interrupted extractions and downloads",
		Long: `Remove temporary extraction directories and partial downloads left behind
by interrupted runs. Completed extractions are never removed; use
'assetlib fetch --refresh' to replace one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.runtime(cmd.Context())
			if err != nil {
				return err
			}
			result := staging.NewFromConfig(cfg, staging.WithLogger(logger)).CleanAbandoned(cmd.Context(), maxAge)
			if ctx.JSONMode() {
				return writeStagingCleanJSON(cmd, result)
			}
			return printStagingCleanResult(cmd, result)
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", time.Hour, "Only remove leftovers older than this")
	return cmd
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanResult) error {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintln(out, "Nothing to clean")
		return nil
	}
	fmt.Fprintf(out, "Removed %d leftovers", len(result.Removed))
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, ", %d errors", len(result.Errors))
	}
	fmt.Fprintln(out)
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}

func writeStagingCleanJSON(cmd *cobra.Command, result staging.CleanResult) error {
	errs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
	}
	removed := result.Removed
	if removed == nil {
		removed = []string{}
	}
	return writeJSON(cmd, map[string]any{
		"removed": removed,
		"errors":  errs,
	})
}
