package main

import (
	"fmt"
	"io"
	"io/fs"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"futurebuild/internal/config"
	"futurebuild/internal/history"
	"futurebuild/internal/logging"
	"futurebuild/internal/pipeline"
	"futurebuild/internal/stage"
)

func newBuildCommand(ctx *commandContext) *cobra.Command {
	var skipGenerate bool
	var skipFrontendBuild bool
	var precache bool
	var workingDir string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the full build pipeline",
		Long: `Run every pipeline stage in order: materialize the source tree, install
backend dependencies, generate course assets, install the pinned frontend
runtime and lockfile-exact dependencies, bundle the frontend, and overlay the
course service worker. The first failing stage stops the run and its exit
status becomes the exit status of futurebuild.`,
		Args: cobra.NoArgs,
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

			runID := uuid.NewString()
			logger, logPath, err := logging.NewForRun(cfg, runID, ctx.logLevel())
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := history.Open(cfg)
			if err != nil {
				logging.WarnWithContext(logger, "run history unavailable", "history_open_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "this run will not be recorded"),
				)
				store = nil
			} else {
				defer store.Close()
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			runner := &pipeline.Runner{Config: cfg, Logger: logger, History: store}
			outcome, runErr := runner.Run(signalCtx, pipeline.RunOptions{
				Options: pipeline.Options{
					SkipGenerate:      skipGenerate,
					SkipFrontendBuild: skipFrontendBuild,
				},
				RunID:   runID,
				LogPath: logPath,
			})
			out := cmd.OutOrStdout()
			if len(outcome.Results) > 0 {
				writeBuildSummary(out, cfg, outcome, logPath, shouldColorize(out))
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&skipGenerate, "skip-generate", false, "Reuse previously generated assets (warns when they are stale)")
	cmd.Flags().BoolVar(&skipFrontendBuild, "skip-frontend-build", false, "Reuse the existing bundle; also skips the service worker overlay")
	cmd.Flags().BoolVar(&precache, "precache", false, "Enable the offline precache manifest (overrides frontend.precache)")
	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", "", "Working copy directory (overrides paths.work_dir)")
	return cmd
}

func writeBuildSummary(out io.Writer, cfg *config.Config, outcome pipeline.Outcome, logPath string, colorize bool) {
	rows := make([][]string, 0, len(outcome.Results))
	for i, res := range outcome.Results {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			stageTitle(res.Stage),
			paintStatus(string(res.Status), colorize),
			formatDuration(res.Duration),
			resultDetail(res),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"#", "Stage", "Status", "Duration", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	))

	if failure, failed := outcome.Failure(); failed {
		fmt.Fprintln(out, renderStatusLine("Build", statusError,
			fmt.Sprintf("%s failed (%s, exit %d)", failure.Stage, failure.Category(), outcome.ExitCode()), colorize))
	} else {
		detail := "completed in " + formatDuration(outcome.Duration)
		if size, files, err := treeSize(cfg.BuildOutputDir()); err == nil && files > 0 {
			detail += fmt.Sprintf("; bundle %s in %d files", humanize.Bytes(uint64(size)), files)
		}
		fmt.Fprintln(out, renderStatusLine("Build", statusOK, detail, colorize))
		fmt.Fprintln(out, renderStatusLine("Output", statusInfo, cfg.BuildOutputDir(), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Run", statusInfo, outcome.RunID, colorize))
	if logPath != "" {
		fmt.Fprintln(out, renderStatusLine("Log", statusInfo, logPath, colorize))
	}
}

func resultDetail(res stage.Result) string {
	switch res.Status {
	case stage.StatusFailed:
		if res.Err != nil {
			return truncate(res.Err.Error(), 72)
		}
		return res.Category()
	case stage.StatusSkipped:
		return truncate(res.Note, 72)
	default:
		return truncate(res.Command, 72)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

func treeSize(root string) (int64, int, error) {
	var size int64
	var files int
	err := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			size += info.Size()
			files++
		}
		return nil
	})
	return size, files, err
}
