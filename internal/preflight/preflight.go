package preflight

import (
	"context"
	"path/filepath"

	"futurebuild/internal/config"
	"futurebuild/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	for _, status := range CheckSystemDeps(cfg) {
		results = append(results, fromStatus(status))
	}

	results = append(results, CheckDirectoryAccess("Source directory", cfg.Paths.SourceDir))
	results = append(results, CheckCreatableDirectory("Work directory", cfg.Paths.WorkDir))
	results = append(results, CheckCreatableDirectory("State directory", cfg.Paths.StateDir))

	src := cfg.Paths.SourceDir
	frontend := filepath.Join(src, cfg.Frontend.Dir)
	results = append(results,
		CheckFile("Backend manifest", filepath.Join(src, cfg.Backend.Manifest)),
		CheckFile("Backend lockfile", filepath.Join(src, cfg.Backend.Lockfile)),
		CheckFile("Frontend manifest", filepath.Join(frontend, cfg.Frontend.Manifest)),
		CheckFile("Frontend lockfile", filepath.Join(frontend, cfg.Frontend.Lockfile)),
		CheckFile("Service worker", filepath.Join(src, cfg.Overlay.Source)),
	)

	results = append(results, CheckRuntimePin(ctx, cfg))
	if cfg.Serve.Port > 0 {
		results = append(results, CheckServePort(cfg.ServeAddress()))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func fromStatus(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Path}
	}
	if status.Optional {
		return Result{Name: status.Name, Passed: true, Detail: status.Detail + " (optional)"}
	}
	return Result{Name: status.Name, Detail: status.Detail}
}
