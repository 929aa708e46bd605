package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Env is the execution context a stage handler receives. The working
// directory is explicit; handlers never consult or change the process cwd.
type Env struct {
	// WorkRoot is the materialized working copy.
	WorkRoot string
	// Dir is the absolute directory the stage runs in.
	Dir string
	// PathPrepend lists directories searched before PATH by external commands.
	PathPrepend []string
	Logger      *slog.Logger
}

// Path resolves rel against the stage directory.
func (e Env) Path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(e.Dir, rel)
}

// Handler describes the contract the pipeline driver needs from each stage.
type Handler interface {
	Execute(context.Context, Env) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Env) error

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, env Env) error { return f(ctx, env) }

// SkipError is returned by a handler that decided at run time not to do its work.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// Skip returns an error telling the driver to record the stage as skipped.
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err is a SkipError and returns its reason.
func IsSkip(err error) (string, bool) {
	var skip *SkipError
	if errors.As(err, &skip) {
		return skip.Reason, true
	}
	return "", false
}
