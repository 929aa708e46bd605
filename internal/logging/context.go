package logging

import (
	"context"
	"log/slog"

	"futurebuild/internal/services"
)

// Record keys shared by every handler.
const (
	FieldComponent = "component"
	FieldRunID     = "run_id"
	FieldStage     = "stage"
	// FieldEventType classifies a record for filtering (stage_start, run_failed, ...).
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldImpact    = "impact"
	// FieldStream is stdout or stderr on lines captured from a stage command.
	FieldStream = "stream"
)

// WithContext returns logger annotated with the run id and stage carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if ctx == nil {
		return logger
	}
	var args []any
	if id, ok := services.RunIDFromContext(ctx); ok {
		args = append(args, slog.String(FieldRunID, id))
	}
	if stage, ok := services.StageFromContext(ctx); ok {
		args = append(args, slog.String(FieldStage, stage))
	}
	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
