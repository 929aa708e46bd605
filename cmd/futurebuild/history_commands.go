package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"futurebuild/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent pipeline runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				failed := "-"
				if run.FailedStage != "" {
					failed = fmt.Sprintf("%s (%s)", run.FailedStage, run.ErrorCategory)
				}
				rows = append(rows, []string{
					shortRunID(run.ID),
					humanize.Time(run.StartedAt),
					paintStatus(string(run.Status), colorize),
					formatDuration(run.Duration()),
					exitCodeText(run),
					yesNo(run.Options.Precache),
					failed,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Started", "Status", "Duration", "Exit", "Precache", "Failed Stage"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.AddCommand(newHistoryShowCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the stage results of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), strings.TrimSpace(args[0]))
			switch {
			case errors.Is(err, history.ErrNotFound):
				return fmt.Errorf("run %s not found", args[0])
			case errors.Is(err, history.ErrAmbiguous):
				return fmt.Errorf("run id %s matches more than one run; use more characters", args[0])
			case err != nil:
				return fmt.Errorf("load run: %w", err)
			}
			stages, err := store.Stages(cmd.Context(), run.ID)
			if err != nil {
				return fmt.Errorf("load stages: %w", err)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Run "+run.ID, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Status", runStatusKind(run.Status), string(run.Status), colorize))
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo,
				fmt.Sprintf("%s (%s)", run.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt)), colorize))
			fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(run.Duration()), colorize))
			fmt.Fprintln(out, renderStatusLine("Working copy", statusInfo, run.WorkDir, colorize))
			fmt.Fprintln(out, renderStatusLine("Precache", statusInfo, yesNo(run.Options.Precache), colorize))
			if run.BuildKey != "" {
				fmt.Fprintln(out, renderStatusLine("Build key", statusInfo, shortRunID(run.BuildKey), colorize))
			}
			if run.FailedStage != "" {
				fmt.Fprintln(out, renderStatusLine("Failure", statusError,
					fmt.Sprintf("%s: %s (exit %d)", run.FailedStage, run.ErrorCategory, run.ExitCode), colorize))
			}
			if run.LogPath != "" {
				fmt.Fprintln(out, renderStatusLine("Log", statusInfo, run.LogPath, colorize))
			}

			rows := make([][]string, 0, len(stages))
			for _, rec := range stages {
				detail := rec.Note
				if rec.ErrorMessage != "" {
					detail = rec.ErrorMessage
				}
				rows = append(rows, []string{
					strconv.Itoa(rec.Position),
					stageTitle(rec.Name),
					paintStatus(rec.Status, colorize),
					formatDuration(rec.Duration),
					truncate(detail, 72),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Stage", "Status", "Duration", "Detail"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func openHistory(ctx *commandContext) (*history.Store, error) {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

func runStatusKind(status history.RunStatus) statusKind {
	switch status {
	case history.RunSucceeded:
		return statusOK
	case history.RunFailed:
		return statusError
	case history.RunInterrupted:
		return statusWarn
	default:
		return statusInfo
	}
}

func exitCodeText(run history.Run) string {
	if run.Status == history.RunRunning {
		return "-"
	}
	return strconv.Itoa(run.ExitCode)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
