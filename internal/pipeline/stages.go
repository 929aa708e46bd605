package pipeline

import (
	"path/filepath"
	"time"

	"futurebuild/internal/config"
	"futurebuild/internal/execx"
	"futurebuild/internal/services"
	"futurebuild/internal/stage"
)

// Stage names in execution order.
const (
	StageMaterialize      = "materialize"
	StageBackendBootstrap = "backend-bootstrap"
	StageBackendInstall   = "backend-install"
	StageGenerate         = "generate"
	StageFrontendRuntime  = "frontend-runtime"
	StageFrontendInstall  = "frontend-install"
	StageFrontendBuild    = "frontend-build"
	StageOverlay          = "overlay"
)

// StageNames lists every stage of the standard pipeline in order.
var StageNames = []string{
	StageMaterialize,
	StageBackendBootstrap,
	StageBackendInstall,
	StageGenerate,
	StageFrontendRuntime,
	StageFrontendInstall,
	StageFrontendBuild,
	StageOverlay,
}

// Options select which optional stages run.
type Options struct {
	SkipGenerate      bool
	SkipFrontendBuild bool
}

// Stages returns the standard stage list for cfg. It is what Runner executes
// and what plan and doctor inspect.
func Stages(cfg *config.Config, opts Options, executor execx.Executor) []stage.Stage {
	return standardStages(cfg, opts, executor, &runState{}, nil)
}

func standardStages(cfg *config.Config, opts Options, executor execx.Executor, state *runState, lastGenerate func() (string, bool)) []stage.Stage {
	if executor == nil {
		executor = execx.ProcessExecutor{}
	}
	frontendProbe := filepath.Join(cfg.Paths.SourceDir, cfg.Frontend.Dir)
	command := func(name string, args []string, marker error, probeDir string) commandHandler {
		return commandHandler{
			stage:       name,
			args:        args,
			executor:    executor,
			marker:      marker,
			probeDir:    probeDir,
			pathPrepend: cfg.Backend.BinDirs,
		}
	}
	timeout := func(name string) time.Duration { return cfg.StageTimeout(name) }

	var bootstrapDisabled string
	if len(cfg.Backend.Bootstrap) == 0 {
		bootstrapDisabled = "no bootstrap command configured"
	}
	runtimeCommand := cfg.RuntimeInstallCommand()
	var runtimeDisabled string
	if len(runtimeCommand) == 0 {
		runtimeDisabled = "no frontend runtime pinned"
	}
	var overlayDisabled string
	if opts.SkipFrontendBuild {
		overlayDisabled = "frontend build skipped; the overlay must follow a build"
	}

	return []stage.Stage{
		{
			Name: StageMaterialize,
			Dir:  ".",
			Handler: materializeHandler{
				source: cfg.Paths.SourceDir,
				clean:  cfg.Paths.Clean,
				skip:   materializeSkip(cfg),
				keep:   materializeKeep(cfg, opts),
			},
			Fatal:   true,
			Timeout: timeout(StageMaterialize),
			Marker:  services.ErrMaterialize,
		},
		{
			Name:     StageBackendBootstrap,
			Dir:      ".",
			Command:  cfg.Backend.Bootstrap,
			Handler:  command(StageBackendBootstrap, cfg.Backend.Bootstrap, services.ErrDependency, cfg.Paths.SourceDir),
			Fatal:    true,
			Timeout:  timeout(StageBackendBootstrap),
			Marker:   services.ErrDependency,
			Disabled: bootstrapDisabled,
		},
		{
			Name:    StageBackendInstall,
			Command: cfg.Backend.Install,
			Handler: backendInstallHandler{
				command:    command(StageBackendInstall, cfg.Backend.Install, services.ErrDependency, cfg.Paths.SourceDir),
				manifest:   cfg.Backend.Manifest,
				lockfile:   cfg.Backend.Lockfile,
				strictLock: cfg.Backend.StrictLock,
			},
			Fatal:   true,
			Timeout: timeout(StageBackendInstall),
			Marker:  services.ErrDependency,
		},
		{
			Name:    StageGenerate,
			Command: cfg.Generate.Command,
			Handler: generateHandler{
				command:       command(StageGenerate, cfg.Generate.Command, services.ErrGeneration, cfg.Paths.SourceDir),
				inputs:        cfg.Generate.Inputs,
				outputs:       cfg.Generate.Outputs,
				mode:          cfg.Generate.Mode,
				skipRequested: opts.SkipGenerate,
				stampPath:     cfg.GenerateStampPath(),
				lastRecorded:  lastGenerate,
				state:         state,
			},
			Fatal:   true,
			Timeout: timeout(StageGenerate),
			Marker:  services.ErrGeneration,
		},
		{
			Name:     StageFrontendRuntime,
			Dir:      cfg.Frontend.Dir,
			Command:  runtimeCommand,
			Handler:  command(StageFrontendRuntime, runtimeCommand, services.ErrDependency, frontendProbe),
			Fatal:    true,
			Timeout:  timeout(StageFrontendRuntime),
			Marker:   services.ErrDependency,
			Disabled: runtimeDisabled,
		},
		{
			Name:    StageFrontendInstall,
			Command: cfg.Frontend.Install,
			Handler: frontendInstallHandler{
				command:  command(StageFrontendInstall, cfg.Frontend.Install, services.ErrDependency, frontendProbe),
				manifest: cfg.Frontend.Manifest,
				lockfile: cfg.Frontend.Lockfile,
			},
			Fatal:   true,
			Timeout: timeout(StageFrontendInstall),
			Marker:  services.ErrDependency,
		},
		{
			Name:    StageFrontendBuild,
			Command: cfg.Frontend.Build,
			Handler: buildHandler{
				command:       command(StageFrontendBuild, cfg.Frontend.Build, services.ErrBuild, frontendProbe),
				precache:      cfg.Frontend.Precache,
				precacheEnv:   cfg.Frontend.PrecacheEnv,
				sources:       cfg.Frontend.Sources,
				buildDir:      cfg.Frontend.BuildDir,
				stampPath:     cfg.BuildStampPath(),
				skipRequested: opts.SkipFrontendBuild,
				state:         state,
			},
			Fatal:   true,
			Timeout: timeout(StageFrontendBuild),
			Marker:  services.ErrBuild,
		},
		{
			Name: StageOverlay,
			Dir:  ".",
			Handler: overlayHandler{
				source:    cfg.Overlay.Source,
				target:    filepath.Join(cfg.Frontend.Dir, cfg.Frontend.BuildDir, cfg.Overlay.Target),
				probeRoot: cfg.Paths.SourceDir,
			},
			Fatal:    true,
			Timeout:  timeout(StageOverlay),
			Marker:   services.ErrOverlay,
			Disabled: overlayDisabled,
		},
	}
}
