package pipeline

import (
	"context"
	"time"

	"futurebuild/internal/config"
	"futurebuild/internal/stage"
)

// PlanEntry describes one stage as it would run, without running it.
type PlanEntry struct {
	Position int
	Name     string
	Dir      string
	Command  string
	Timeout  time.Duration
	// Note explains skipped or conditional stages.
	Note string
}

// Plan resolves the standard stage list for display.
func Plan(cfg *config.Config, opts Options) []PlanEntry {
	stages := Stages(cfg, opts, nil)
	dirs := ResolveDirs(cfg.Paths.WorkDir, stages)
	entries := make([]PlanEntry, 0, len(stages))
	for i, st := range stages {
		entry := PlanEntry{
			Position: i + 1,
			Name:     st.Name,
			Dir:      dirs[i],
			Command:  st.CommandLine(),
			Timeout:  st.Timeout,
			Note:     st.Disabled,
		}
		switch {
		case entry.Note != "":
		case st.Name == StageGenerate && opts.SkipGenerate:
			entry.Note = "skipped (--skip-generate); warns when inputs changed"
		case st.Name == StageGenerate && cfg.Generate.Mode == config.GenerateAuto:
			entry.Note = "skipped when inputs are unchanged"
		case st.Name == StageFrontendBuild && opts.SkipFrontendBuild:
			entry.Note = "skipped (--skip-frontend-build)"
		case st.Name == StageFrontendBuild:
			entry.Note = cfg.Frontend.PrecacheEnv + "=" + precacheFlag(cfg.Frontend.Precache)
		case st.Name == StageFrontendInstall:
			entry.Note = "lockfile checked first"
		}
		entries = append(entries, entry)
	}
	return entries
}

// Health reports readiness of every standard stage that can run.
func Health(ctx context.Context, cfg *config.Config) []stage.Health {
	stages := Stages(cfg, Options{}, nil)
	out := make([]stage.Health, 0, len(stages))
	for _, st := range stages {
		if health, ok := stage.CheckHealth(ctx, st); ok {
			out = append(out, health)
		}
	}
	return out
}

func precacheFlag(enabled bool) string {
	if enabled {
		return "1"
	}
	return "0"
}
