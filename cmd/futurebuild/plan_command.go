package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"futurebuild/internal/pipeline"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	var opts pipeline.Options
	var precache bool
	var workingDir string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the stages a build would run without running them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyWorkingDir(cfg, workingDir); err != nil {
				return err
			}
			if cmd.Flags().Changed("precache") {
				cfg.Frontend.Precache = precache
			}

			entries := pipeline.Plan(cfg, opts)
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				timeout := "-"
				if e.Timeout > 0 {
					timeout = e.Timeout.String()
				}
				rows = append(rows, []string{
					strconv.Itoa(e.Position),
					stageTitle(e.Name),
					e.Dir,
					e.Command,
					timeout,
					e.Note,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Stage", "Directory", "Command", "Timeout", "Notes"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintf(out, "Source: %s\nWorking copy: %s\n", cfg.Paths.SourceDir, cfg.Paths.WorkDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.SkipGenerate, "skip-generate", false, "Plan with asset generation skipped")
	cmd.Flags().BoolVar(&opts.SkipFrontendBuild, "skip-frontend-build", false, "Plan with the frontend build skipped")
	cmd.Flags().BoolVar(&precache, "precache", false, "Plan with the precache manifest enabled")
	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", "", "Working copy directory (overrides paths.work_dir)")
	return cmd
}
