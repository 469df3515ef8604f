package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"assetlib/internal/api"
	"assetlib/internal/deps"
	"assetlib/internal/preflight"
)

func newToolsCommand(ctx *commandContext) *cobra.Command {
	var showCandidates bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Show which Houdini runtimes were discovered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			locator := deps.NewLocator(cfg.DCC)
			statuses := locator.Check()
			if ctx.JSONMode() {
				return writeJSON(cmd, api.ToolsResponse{Tools: api.FromDependencies(statuses)})
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range dependencyLines(statuses, colorize) {
				fmt.Fprintln(out, line)
			}
			if showCandidates {
				for _, tool := range []deps.Tool{deps.Interactive, deps.Headless} {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader(string(tool)+" candidates", colorize) {
						fmt.Fprintln(out, line)
					}
					for _, candidate := range locator.Candidates(tool) {
						fmt.Fprintf(out, "%s%s\n", statusIndent, candidate)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showCandidates, "candidates", false, "List every probed path in order")
	return cmd
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check registry access, local folders and tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				results := preflight.RunAll(cmd.Context(), svc.cfg, svc.registry, svc.locator)
				healthy := preflight.Healthy(results)
				if ctx.JSONMode() {
					if err := writeJSON(cmd, map[string]any{"healthy": healthy, "checks": results}); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					colorize := shouldColorize(out)
					for _, line := range renderSectionHeader("assetlib doctor", colorize) {
						fmt.Fprintln(out, line)
					}
					for _, line := range preflightLines(results, colorize) {
						fmt.Fprintln(out, line)
					}
				}
				if !healthy {
					return errors.New("one or more required checks failed")
				}
				return nil
			})
		},
	}
}
