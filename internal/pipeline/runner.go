package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"futurebuild/internal/config"
	"futurebuild/internal/execx"
	"futurebuild/internal/history"
	"futurebuild/internal/logging"
	"futurebuild/internal/runlock"
	"futurebuild/internal/services"
	"futurebuild/internal/stage"
)

// Runner executes the standard pipeline for one configuration.
type Runner struct {
	Config   *config.Config
	Logger   *slog.Logger
	Executor execx.Executor
	// History is optional; without it runs are not recorded and stale
	// detection relies on stamp files alone.
	History *history.Store
}

// RunOptions controls a single run.
type RunOptions struct {
	Options
	// RunID identifies the run; a random UUID is used when empty.
	RunID   string
	LogPath string
}

// Run acquires the working directory lock, executes every stage, and records
// the run. The returned error is nil only when the pipeline succeeded. When
// the pipeline could not start (configuration or lock failures) the outcome
// has no results.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (Outcome, error) {
	cfg := r.Config
	if cfg == nil {
		return Outcome{}, services.Wrap(services.ErrConfiguration, "", "start run", "configuration is required", nil)
	}
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = services.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.Logger)

	if err := cfg.EnsureDirectories(); err != nil {
		return Outcome{RunID: runID}, services.Wrap(services.ErrConfiguration, "", "prepare directories", "", err)
	}
	lock, err := runlock.Acquire(cfg.Paths.WorkDir)
	if err != nil {
		return Outcome{RunID: runID}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	// history writes must land even when the run is interrupted
	recordCtx := context.WithoutCancel(ctx)
	rec := recorder{store: r.History, workDir: cfg.Paths.WorkDir, logger: logger}
	rec.begin(recordCtx, history.Run{
		ID:      runID,
		WorkDir: cfg.Paths.WorkDir,
		Options: history.RunOptions{
			SkipGenerate:      opts.SkipGenerate,
			SkipFrontendBuild: opts.SkipFrontendBuild,
			Precache:          cfg.Frontend.Precache,
			GenerateMode:      cfg.Generate.Mode,
		},
		StartedAt: time.Now(),
		LogPath:   opts.LogPath,
	})

	state := &runState{}
	stages := standardStages(cfg, opts.Options, r.Executor, state, rec.lastFingerprint(recordCtx, history.FingerprintGenerate))

	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("source_dir", cfg.Paths.SourceDir),
		logging.String("work_dir", cfg.Paths.WorkDir),
		logging.Bool("precache", cfg.Frontend.Precache),
		logging.Bool("skip_generate", opts.SkipGenerate),
		logging.Bool("skip_frontend_build", opts.SkipFrontendBuild),
	)

	driver := Driver{
		WorkRoot:    cfg.Paths.WorkDir,
		PathPrepend: cfg.Backend.BinDirs,
		Logger:      logger,
		Observe: func(position int, st stage.Stage, res stage.Result) {
			rec.stage(recordCtx, runID, position, res)
			if res.Status != stage.StatusSucceeded {
				return
			}
			switch st.Name {
			case StageGenerate:
				rec.fingerprint(recordCtx, history.FingerprintGenerate, state.generateFingerprint, runID)
			case StageFrontendBuild:
				rec.fingerprint(recordCtx, history.FingerprintBuild, state.buildKey, runID)
			}
		},
	}
	outcome := driver.Run(ctx, stages)
	outcome.RunID = runID
	outcome.BuildKey = state.buildKey

	rec.finish(recordCtx, outcome)
	rec.prune(recordCtx, cfg.Logging.RetentionDays)

	if failure, failed := outcome.Failure(); failed {
		logging.ErrorWithContext(logger, "pipeline failed", "run_failed",
			logging.String(logging.FieldStage, failure.Stage),
			logging.Int("exit_code", outcome.ExitCode()),
			logging.String("category", failure.Category()),
			logging.Duration("duration", outcome.Duration),
		)
		return outcome, fmt.Errorf("stage %s failed: %w", failure.Stage, failure.Err)
	}
	logger.Info("pipeline completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Duration("duration", outcome.Duration),
		logging.String("build_key", shortKey(outcome.BuildKey)),
	)
	return outcome, nil
}
