package services

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	ErrMaterialize       = errors.New("source materialization failure")
	ErrDependency        = errors.New("dependency resolution failure")
	ErrLockfileMismatch  = errors.New("lockfile mismatch")
	ErrMissingDependency = errors.New("missing dependency")
	ErrGeneration        = errors.New("generation failed")
	ErrBuild             = errors.New("build failed")
	ErrOverlay           = errors.New("file overlay failure")
	ErrRuntimeStart      = errors.New("runtime start failure")
	ErrExternalTool      = errors.New("external tool error")
	ErrConfiguration     = errors.New("configuration error")
	ErrTimeout           = errors.New("timeout")
	ErrConcurrentRun     = errors.New("concurrent run")
)

// ReservedExitCode is reported when a failure carries no usable exit status.
const ReservedExitCode = 1

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalTool
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ExitCode returns the exit status of the external command that caused err.
// Errors without a usable status (including signals) map to ReservedExitCode.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code > 0 {
			return code
		}
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		if code := coder.ExitCode(); code > 0 {
			return code
		}
	}
	return ReservedExitCode
}

// Category maps an error to the label used in reports and run history. A
// timeout wins over the marker of the stage that overran.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMaterialize):
		return "materialize-failed"
	case errors.Is(err, ErrLockfileMismatch):
		return "lockfile-mismatch"
	case errors.Is(err, ErrMissingDependency):
		return "missing-dependency"
	case errors.Is(err, ErrDependency):
		return "dependency-resolution-failure"
	case errors.Is(err, ErrGeneration):
		return "generation-failed"
	case errors.Is(err, ErrBuild):
		return "build-failed"
	case errors.Is(err, ErrOverlay):
		return "file-overlay-failure"
	case errors.Is(err, ErrRuntimeStart):
		return "runtime-start-failure"
	case errors.Is(err, ErrConcurrentRun):
		return "concurrent-run"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "external-tool"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
