package stage

import (
	"strings"
	"time"

	"futurebuild/internal/services"
)

// Stage is one ordered step of the pipeline.
type Stage struct {
	Name string
	// Dir is relative to the work root. Empty inherits the previous stage's directory.
	Dir string
	// Command is the external command line for plans and history; built-in
	// stages leave it empty.
	Command []string
	Handler Handler
	// Fatal stops the pipeline on failure. Non-fatal failures are recorded and the run continues.
	Fatal   bool
	Timeout time.Duration
	// Marker classifies failures the handler did not classify itself.
	Marker error
	// Disabled, when set, records the stage as skipped with this reason instead of running it.
	Disabled string
}

// CommandLine renders Command for display.
func (s Stage) CommandLine() string {
	if len(s.Command) == 0 {
		return "(built-in)"
	}
	return strings.Join(s.Command, " ")
}

// Status is the outcome of a single stage.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result records what happened to one stage. A failed result carries the
// error and the exit status to report.
type Result struct {
	Stage     string
	Status    Status
	Dir       string
	Command   string
	ExitCode  int
	Err       error
	Note      string
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded constructs a successful result.
func Succeeded(name, dir string, started time.Time, took time.Duration) Result {
	return Result{Stage: name, Status: StatusSucceeded, Dir: dir, StartedAt: started, Duration: took}
}

// Failed constructs a failed result; the exit code is derived from err.
func Failed(name, dir string, err error, started time.Time, took time.Duration) Result {
	return Result{
		Stage:     name,
		Status:    StatusFailed,
		Dir:       dir,
		ExitCode:  services.ExitCode(err),
		Err:       err,
		StartedAt: started,
		Duration:  took,
	}
}

// Skipped constructs a result for a stage that did not run.
func Skipped(name, reason string) Result {
	return Result{Stage: name, Status: StatusSkipped, Note: reason}
}

// Category returns the error taxonomy label of a failed result.
func (r Result) Category() string {
	return services.Category(r.Err)
}
