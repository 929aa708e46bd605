package config

const (
	defaultSourceDir      = "."
	defaultWorkDir        = "~/.local/share/futurebuild/app"
	defaultStateDir       = "~/.local/share/futurebuild"
	defaultFrontendDir    = "frontend"
	defaultBuildDir       = "build"
	defaultRuntimePackage = "npm@8.19.4"
	defaultPrecacheEnv    = "REACT_APP_PRECACHE"
	defaultOverlaySource  = "course/service-worker.js"
	defaultOverlayTarget  = "service-worker.js"
	defaultServeBind      = "0.0.0.0"
	defaultServePort      = 3000
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultRetentionDays  = 30

	// GenerateAlways runs the generator on every build.
	GenerateAlways = "always"
	// GenerateAuto skips the generator when its inputs are unchanged since the last success.
	GenerateAuto = "auto"

	// ServeExec starts the configured start command.
	ServeExec = "exec"
	// ServeStatic serves the build output with the built-in HTTP server.
	ServeStatic = "static"

	// PrecacheEnvVar is the environment variable that toggles the offline precache manifest.
	PrecacheEnvVar = "FUTUREBUILD_PRECACHE"
	// WorkDirEnvVar overrides paths.work_dir.
	WorkDirEnvVar = "FUTUREBUILD_WORK_DIR"
	// PortEnvVar overrides serve.port.
	PortEnvVar = "FUTUREBUILD_PORT"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SourceDir: defaultSourceDir,
			WorkDir:   defaultWorkDir,
			StateDir:  defaultStateDir,
		},
		Backend: Backend{
			Bootstrap: []string{"python3", "-m", "pip", "install", "--user", "poetry"},
			Install:   []string{"poetry", "install", "--no-root"},
			Manifest:  "pyproject.toml",
			Lockfile:  "poetry.lock",
			BinDirs:   []string{"~/.local/bin"},
		},
		Generate: Generate{
			Command: []string{"./scripts/generate.sh"},
			Mode:    GenerateAlways,
			Inputs:  []string{"backend", "course"},
			Outputs: []string{"frontend/src/book"},
		},
		Frontend: Frontend{
			Dir:            defaultFrontendDir,
			RuntimePackage: defaultRuntimePackage,
			RuntimeInstall: []string{"npm", "install", "-g"},
			Install:        []string{"npm", "ci"},
			Build:          []string{"npm", "run", "build"},
			Manifest:       "package.json",
			Lockfile:       "package-lock.json",
			BuildDir:       defaultBuildDir,
			PrecacheEnv:    defaultPrecacheEnv,
			Sources:        []string{"src", "public", "package.json", "package-lock.json"},
		},
		Overlay: Overlay{
			Source: defaultOverlaySource,
			Target: defaultOverlayTarget,
		},
		Serve: Serve{
			Bind:       defaultServeBind,
			Port:       defaultServePort,
			Mode:       ServeExec,
			Command:    []string{"npm", "start"},
			LiveReload: true,
		},
		Workflow: Workflow{
			StageTimeouts: map[string]int{},
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultRetentionDays,
		},
	}
}
