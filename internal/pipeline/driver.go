package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"futurebuild/internal/logging"
	"futurebuild/internal/services"
	"futurebuild/internal/stage"
)

// Outcome is the result of one pipeline run.
type Outcome struct {
	RunID     string
	Results   []stage.Result
	StartedAt time.Time
	Duration  time.Duration
	BuildKey  string
	// failure is the first fatal failure, if any.
	failure *stage.Result
}

// Succeeded reports whether no fatal stage failed.
func (o Outcome) Succeeded() bool { return o.failure == nil }

// Failure returns the fatal stage result that stopped the run.
func (o Outcome) Failure() (stage.Result, bool) {
	if o.failure == nil {
		return stage.Result{}, false
	}
	return *o.failure, true
}

// ExitCode is 0 on success, otherwise the failing stage's exit status or the
// reserved code when the stage reported none.
func (o Outcome) ExitCode() int {
	if o.failure == nil {
		return 0
	}
	if o.failure.ExitCode > 0 {
		return o.failure.ExitCode
	}
	return services.ReservedExitCode
}

// Err returns the failing stage's error, or nil on success.
func (o Outcome) Err() error {
	if o.failure == nil {
		return nil
	}
	return o.failure.Err
}

// Driver executes an ordered stage list with fail-fast semantics.
type Driver struct {
	WorkRoot    string
	PathPrepend []string
	Logger      *slog.Logger
	// Observe, when set, is called with every stage result in declared order,
	// including stages that were skipped.
	Observe func(position int, st stage.Stage, res stage.Result)
}

// ResolveDirs returns the absolute working directory of each stage. A stage
// without a directory inherits the previous stage's; the first inherits the
// work root.
func ResolveDirs(workRoot string, stages []stage.Stage) []string {
	dirs := make([]string, len(stages))
	current := workRoot
	for i, st := range stages {
		if st.Dir != "" {
			current = filepath.Join(workRoot, st.Dir)
		}
		dirs[i] = current
	}
	return dirs
}

// Run executes stages in order. It never returns early on its own: every
// stage gets a result, and the stages after a fatal failure are recorded as
// skipped without executing.
func (d *Driver) Run(ctx context.Context, stages []stage.Stage) Outcome {
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	outcome := Outcome{StartedAt: time.Now()}
	if id, ok := services.RunIDFromContext(ctx); ok {
		outcome.RunID = id
	}
	dirs := ResolveDirs(d.WorkRoot, stages)

	for i, st := range stages {
		var res stage.Result
		switch {
		case outcome.failure != nil:
			res = stage.Skipped(st.Name, fmt.Sprintf("not reached: %s failed", outcome.failure.Stage))
			res.Dir = dirs[i]
		case st.Disabled != "":
			res = stage.Skipped(st.Name, st.Disabled)
			res.Dir = dirs[i]
			logging.WithContext(services.WithStage(ctx, st.Name), logger).Info(
				"stage skipped",
				logging.String(logging.FieldEventType, "stage_skipped"),
				logging.String("reason", st.Disabled),
			)
		default:
			res = d.execute(ctx, st, dirs[i], logger)
		}
		res.Command = commandLine(st)

		outcome.Results = append(outcome.Results, res)
		if res.Status == stage.StatusFailed && st.Fatal && outcome.failure == nil {
			failed := res
			outcome.failure = &failed
		}
		if d.Observe != nil {
			d.Observe(i, st, res)
		}
	}

	outcome.Duration = time.Since(outcome.StartedAt)
	return outcome
}

func (d *Driver) execute(ctx context.Context, st stage.Stage, dir string, logger *slog.Logger) stage.Result {
	stageCtx := services.WithStage(ctx, st.Name)
	stageLogger := logging.WithContext(stageCtx, logger)
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return stage.Failed(st.Name, dir, services.Wrap(st.Marker, st.Name, "start", "run cancelled", err), started, 0)
	}
	if st.Handler == nil {
		err := services.Wrap(services.ErrConfiguration, st.Name, "start", "stage has no handler", nil)
		return stage.Failed(st.Name, dir, err, started, 0)
	}

	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("dir", dir),
		logging.String("command", commandLine(st)),
	)

	execCtx := stageCtx
	if st.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(stageCtx, st.Timeout)
		defer cancel()
	}

	err := st.Handler.Execute(execCtx, stage.Env{
		WorkRoot:    d.WorkRoot,
		Dir:         dir,
		PathPrepend: d.PathPrepend,
		Logger:      stageLogger,
	})
	took := time.Since(started)

	if reason, ok := stage.IsSkip(err); ok {
		stageLogger.Info(
			"stage skipped",
			logging.String(logging.FieldEventType, "stage_skipped"),
			logging.String("reason", reason),
		)
		res := stage.Skipped(st.Name, reason)
		res.Dir = dir
		res.StartedAt = started
		res.Duration = took
		return res
	}

	if err != nil {
		err = classify(execCtx, st, err)
		res := stage.Failed(st.Name, dir, err, started, took)
		attrs := []logging.Attr{
			logging.Int("exit_code", res.ExitCode),
			logging.String("category", res.Category()),
			logging.Duration("duration", took),
			logging.Error(err),
		}
		if st.Fatal {
			logging.ErrorWithContext(stageLogger, "stage failed", "stage_failure", attrs...)
		} else {
			attrs = append(attrs, logging.String(logging.FieldImpact, "non-fatal stage; continuing"))
			logging.WarnWithContext(stageLogger, "stage failed", "stage_failure", attrs...)
		}
		return res
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", took),
	)
	return stage.Succeeded(st.Name, dir, started, took)
}

// classify tags a handler error with the stage's marker unless the handler
// already chose one. Deadline overruns become timeouts.
func classify(ctx context.Context, st stage.Stage, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, services.ErrTimeout) {
		return services.Wrap(services.ErrTimeout, st.Name, "execute",
			fmt.Sprintf("exceeded %s limit", st.Timeout), err)
	}
	if services.Category(err) != services.Category(services.ErrExternalTool) || errors.Is(err, services.ErrExternalTool) {
		return err
	}
	return services.Wrap(st.Marker, st.Name, "execute", "", err)
}

func commandLine(st stage.Stage) string {
	if len(st.Command) == 0 {
		return ""
	}
	return st.CommandLine()
}
