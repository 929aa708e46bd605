package history

import (
	"errors"
	"time"
)

// RunStatus is the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunSucceeded   RunStatus = "succeeded"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// ErrNotFound is returned when no run matches the requested identifier.
var ErrNotFound = errors.New("run not found")

// ErrAmbiguous is returned when an identifier prefix matches more than one run.
var ErrAmbiguous = errors.New("run identifier is ambiguous")

// Fingerprint kinds stored by the pipeline.
const (
	FingerprintGenerate = "generate"
	FingerprintBuild    = "frontend-build"
)

// RunOptions records the flags a run was started with.
type RunOptions struct {
	SkipGenerate      bool   `json:"skip_generate,omitempty"`
	SkipFrontendBuild bool   `json:"skip_frontend_build,omitempty"`
	Precache          bool   `json:"precache"`
	GenerateMode      string `json:"generate_mode,omitempty"`
}

// Run is one pipeline execution.
type Run struct {
	ID            string
	Status        RunStatus
	WorkDir       string
	Options       RunOptions
	StartedAt     time.Time
	FinishedAt    *time.Time
	ExitCode      int
	FailedStage   string
	ErrorCategory string
	ErrorMessage  string
	BuildKey      string
	LogPath       string
}

// Duration returns the wall-clock time of a finished run, or zero while running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Outcome finalizes a run.
type Outcome struct {
	Status        RunStatus
	ExitCode      int
	FailedStage   string
	ErrorCategory string
	ErrorMessage  string
	BuildKey      string
	FinishedAt    time.Time
}

// StageRecord is the persisted result of one stage within a run.
type StageRecord struct {
	Position      int
	Name          string
	Status        string
	Dir           string
	Command       string
	ExitCode      int
	ErrorCategory string
	ErrorMessage  string
	Note          string
	StartedAt     time.Time
	Duration      time.Duration
}

// FingerprintRecord is the last stored value for a fingerprint kind on one
// working copy.
type FingerprintRecord struct {
	WorkDir    string
	Kind       string
	Value      string
	RunID      string
	RecordedAt time.Time
}
