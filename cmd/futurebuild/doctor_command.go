package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"futurebuild/internal/pipeline"
	"futurebuild/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check tools, directories, and project files a build needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			failures := 0
			for _, line := range renderSectionHeader("Environment", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
					failures++
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Stages", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, health := range pipeline.Health(cmd.Context(), cfg) {
				kind, detail := statusOK, "ready"
				if !health.Ready {
					kind, detail = statusWarn, health.Detail
				}
				fmt.Fprintln(out, renderStatusLine(stageTitle(health.Name), kind, detail, colorize))
			}

			if ctx.configPath != "" {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderStatusLine("Config", statusInfo, ctx.configPath, colorize))
			}
			if failures > 0 {
				return fmt.Errorf("%d readiness check(s) failed", failures)
			}
			return nil
		},
	}
}
