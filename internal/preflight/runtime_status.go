package preflight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"futurebuild/internal/config"
	"futurebuild/internal/execx"
)

// RuntimeProbe reports the installed frontend package manager against the pin.
type RuntimeProbe struct {
	Tool      string
	Pinned    string
	Installed string
}

// Matches reports whether the installed version equals the pinned one.
func (p RuntimeProbe) Matches() bool {
	if p.Pinned == "" || p.Installed == "" {
		return false
	}
	want, err := semver.NewVersion(p.Pinned)
	if err != nil {
		return p.Pinned == p.Installed
	}
	got, err := semver.NewVersion(p.Installed)
	if err != nil {
		return false
	}
	return want.Equal(got)
}

// ProbeRuntime asks the pinned tool for its version. runtime_package has the
// form <tool>@<version>; an unpinned config yields an empty probe.
func ProbeRuntime(ctx context.Context, cfg *config.Config, executor execx.Executor) RuntimeProbe {
	tool, version, ok := strings.Cut(strings.TrimSpace(cfg.Frontend.RuntimePackage), "@")
	if !ok || tool == "" {
		return RuntimeProbe{}
	}
	probe := RuntimeProbe{Tool: tool, Pinned: version}
	if executor == nil {
		executor = execx.ProcessExecutor{}
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var lines []string
	err := executor.Run(probeCtx, execx.Command{
		Args:        []string{tool, "--version"},
		PathPrepend: cfg.Backend.BinDirs,
	}, func(stream execx.Stream, line string) {
		if stream == execx.Stdout {
			lines = append(lines, strings.TrimSpace(line))
		}
	})
	if err != nil || len(lines) == 0 {
		return probe
	}
	probe.Installed = strings.TrimPrefix(lines[0], "v")
	return probe
}

// CheckRuntimePin reports whether the pinned frontend runtime is already
// installed. A mismatch passes: the frontend-runtime stage installs the pin.
func CheckRuntimePin(ctx context.Context, cfg *config.Config) Result {
	const name = "Frontend runtime"
	probe := ProbeRuntime(ctx, cfg, nil)
	return probe.result(name)
}

func (p RuntimeProbe) result(name string) Result {
	switch {
	case p.Tool == "":
		return Result{Name: name, Passed: true, Detail: "not pinned"}
	case p.Installed == "":
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s not installed; build installs %s@%s", p.Tool, p.Tool, p.Pinned)}
	case p.Matches():
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s (pinned)", p.Tool, p.Installed)}
	default:
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s %s installed; build pins %s", p.Tool, p.Installed, p.Pinned)}
	}
}
