package pipeline

import (
	"context"
	"log/slog"
	"time"

	"futurebuild/internal/history"
	"futurebuild/internal/logging"
	"futurebuild/internal/stage"
)

// recorder writes run history on a best-effort basis: failures are logged
// and never change the run's outcome.
type recorder struct {
	store   *history.Store
	workDir string
	logger  *slog.Logger
}

func (r recorder) warn(msg string, err error) {
	logging.WarnWithContext(r.logger, msg, "history_write_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check state_dir permissions or delete history.db"),
		logging.String(logging.FieldImpact, "run history is incomplete"),
	)
}

func (r recorder) begin(ctx context.Context, run history.Run) {
	if r.store == nil {
		return
	}
	if n, err := r.store.MarkInterrupted(ctx, r.workDir); err != nil {
		r.warn("unable to close interrupted runs", err)
	} else if n > 0 {
		r.logger.Info("closed interrupted runs", logging.Int64("count", n))
	}
	if err := r.store.BeginRun(ctx, run); err != nil {
		r.warn("unable to record run start", err)
	}
}

func (r recorder) stage(ctx context.Context, runID string, position int, res stage.Result) {
	if r.store == nil {
		return
	}
	rec := history.StageRecord{
		Position:  position,
		Name:      res.Stage,
		Status:    string(res.Status),
		Dir:       res.Dir,
		Command:   res.Command,
		ExitCode:  res.ExitCode,
		Note:      res.Note,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	if res.Err != nil {
		rec.ErrorCategory = res.Category()
		rec.ErrorMessage = res.Err.Error()
	}
	if err := r.store.RecordStage(ctx, runID, rec); err != nil {
		r.warn("unable to record stage result", err)
	}
}

func (r recorder) fingerprint(ctx context.Context, kind, value, runID string) {
	if r.store == nil || value == "" {
		return
	}
	if err := r.store.SaveFingerprint(ctx, r.workDir, kind, value, runID); err != nil {
		r.warn("unable to record fingerprint", err)
	}
}

func (r recorder) lastFingerprint(ctx context.Context, kind string) func() (string, bool) {
	return func() (string, bool) {
		if r.store == nil {
			return "", false
		}
		rec, ok, err := r.store.Fingerprint(ctx, r.workDir, kind)
		if err != nil {
			r.warn("unable to read fingerprint", err)
			return "", false
		}
		return rec.Value, ok
	}
}

func (r recorder) finish(ctx context.Context, outcome Outcome) {
	if r.store == nil {
		return
	}
	result := history.Outcome{
		Status:     history.RunSucceeded,
		BuildKey:   outcome.BuildKey,
		FinishedAt: outcome.StartedAt.Add(outcome.Duration),
	}
	if failure, failed := outcome.Failure(); failed {
		result.Status = history.RunFailed
		result.ExitCode = outcome.ExitCode()
		result.FailedStage = failure.Stage
		result.ErrorCategory = failure.Category()
		if failure.Err != nil {
			result.ErrorMessage = failure.Err.Error()
		}
	}
	if err := r.store.FinishRun(ctx, outcome.RunID, result); err != nil {
		r.warn("unable to record run result", err)
	}
}

func (r recorder) prune(ctx context.Context, retentionDays int) {
	if r.store == nil || retentionDays <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	n, err := r.store.PruneBefore(ctx, cutoff)
	if err != nil {
		r.warn("unable to prune run history", err)
		return
	}
	if n > 0 {
		r.logger.Debug("pruned run history", logging.Int64("runs", n))
	}
}
