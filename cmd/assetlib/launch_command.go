package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"assetlib/internal/api"
	"assetlib/internal/launch"
)

func newLaunchCommand(ctx *commandContext) *cobra.Command {
	var noWait bool

	cmd := &cobra.Command{
		Use:   "launch <asset>",
		Short: "Build the asset scene and open it in Houdini",
		Long: `Stage the downloaded archive, generate the scene script, run the headless
build and open the resulting scene in the interactive application.

By default the command waits until the application exits and reports how
each process ended. With --no-wait it returns as soon as the interactive
application has started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(cmd, func(svc *appServices) error {
				job, err := svc.pipeline.Launch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ctx.JSONMode() {
					fmt.Fprintf(out, "Launch %s accepted for %s\n", job.ID, job.Asset)
					if job.Degraded {
						fmt.Fprintln(out, "hython not found; opening the existing scene without a rebuild")
					}
				}

				if noWait {
					select {
					case <-job.Launched():
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					}
					if ctx.JSONMode() {
						return writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)})
					}
					if job.State() == launch.StateFailed {
						_, err := job.Wait(cmd.Context())
						return err
					}
					fmt.Fprintf(out, "Opened %s\n", job.ScenePath)
					return nil
				}

				outcomes, err := job.Wait(cmd.Context())
				if ctx.JSONMode() {
					if encErr := writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)}); encErr != nil {
						return encErr
					}
					return err
				}
				printOutcomes(cmd, outcomes)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the interactive application has started")
	return cmd
}

func printOutcomes(cmd *cobra.Command, outcomes []launch.Outcome) {
	rows := make([][]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		result := "exit " + fmt.Sprint(outcome.ExitCode)
		switch {
		case outcome.Skipped:
			result = "skipped"
		case outcome.Err != nil && outcome.PID == 0:
			result = "not started"
		}
		detail := ""
		if outcome.Err != nil {
			detail = firstLine(outcome.Err.Error())
		}
		rows = append(rows, []string{
			string(outcome.Step),
			result,
			outcome.Duration.Truncate(time.Millisecond).String(),
			detail,
		})
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(
		[]column{textCol("Step"), textCol("Result"), numCol("Duration"), detailCol("Detail", 60)},
		rows,
	))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
