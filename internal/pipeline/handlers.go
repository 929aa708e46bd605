package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"futurebuild/internal/config"
	"futurebuild/internal/execx"
	"futurebuild/internal/fileutil"
	"futurebuild/internal/lockfile"
	"futurebuild/internal/logging"
	"futurebuild/internal/services"
	"futurebuild/internal/stage"
)

// runState carries values stages compute for the runner to persist.
type runState struct {
	generateFingerprint string
	buildKey            string
}

// commandHandler runs one external command in the stage directory.
type commandHandler struct {
	stage    string
	args     []string
	env      []string
	executor execx.Executor
	marker   error
	// probeDir resolves relative commands for health checks, before the
	// working copy exists.
	probeDir    string
	pathPrepend []string
}

func (h commandHandler) Execute(ctx context.Context, env stage.Env) error {
	return h.run(ctx, env, h.env, nil)
}

// run executes the command with extraEnv. observe, when set, sees every
// output line; it may be called from two goroutines at once.
func (h commandHandler) run(ctx context.Context, env stage.Env, extraEnv []string, observe func(string)) error {
	if len(h.args) == 0 {
		return services.Wrap(services.ErrConfiguration, h.stage, "run", "no command configured", nil)
	}
	logger := env.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	cmd := execx.Command{Args: h.args, Dir: env.Dir, Env: extraEnv, PathPrepend: env.PathPrepend}
	logger.Debug("running command",
		logging.String("command", cmd.String()),
		logging.Strings("env", extraEnv),
	)
	err := h.executor.Run(ctx, cmd, func(stream execx.Stream, line string) {
		logger.Info(line, logging.String(logging.FieldStream, string(stream)))
		if observe != nil {
			observe(line)
		}
	})
	if err == nil {
		return nil
	}
	return services.Wrap(h.marker, h.stage, "run "+filepath.Base(h.args[0]), "", err)
}

func (h commandHandler) HealthCheck(context.Context) stage.Health {
	if len(h.args) == 0 {
		return stage.Unhealthy(h.stage, "no command configured")
	}
	if _, err := execx.LookPath(h.args[0], h.probeDir, h.pathPrepend); err != nil {
		return stage.Unhealthy(h.stage, err.Error())
	}
	return stage.Healthy(h.stage)
}

// materializeHandler makes the working copy mirror the source tree. Entries
// matched by keep (installed dependencies, bookkeeping, the last bundle) stay.
type materializeHandler struct {
	source string
	clean  bool
	skip   func(rel string, d fs.DirEntry) bool
	keep   func(rel string, d fs.DirEntry) bool
}

func (h materializeHandler) Execute(_ context.Context, env stage.Env) error {
	info, err := os.Stat(h.source)
	if err != nil || !info.IsDir() {
		return services.Wrap(services.ErrMaterialize, StageMaterialize, "stat source",
			fmt.Sprintf("source tree %s is not a directory", h.source), err)
	}
	removed := 0
	if h.clean {
		if err := os.RemoveAll(env.WorkRoot); err != nil {
			return services.Wrap(services.ErrMaterialize, StageMaterialize, "clean working copy", "", err)
		}
	} else {
		removed, err = fileutil.PruneTree(h.source, env.WorkRoot, h.keep)
		if err != nil {
			return services.Wrap(services.ErrMaterialize, StageMaterialize, "prune working copy", "", err)
		}
	}
	if err := fileutil.CopyTree(h.source, env.WorkRoot, h.skip); err != nil {
		return services.Wrap(services.ErrMaterialize, StageMaterialize, "copy source tree", "", err)
	}
	env.Logger.Info("source tree materialized",
		logging.String("source", h.source),
		logging.String("work_dir", env.WorkRoot),
		logging.Bool("clean", h.clean),
		logging.Int("removed", removed),
	)
	return nil
}

func (h materializeHandler) HealthCheck(context.Context) stage.Health {
	if info, err := os.Stat(h.source); err != nil || !info.IsDir() {
		return stage.Unhealthy(StageMaterialize, "source tree missing: "+h.source)
	}
	return stage.Healthy(StageMaterialize)
}

// materializeSkip omits the working copy itself (when nested in the source),
// dependency and cache directories, bookkeeping, and the previous bundle.
func materializeSkip(cfg *config.Config) func(rel string, d fs.DirEntry) bool {
	var nestedWork string
	if rel, err := filepath.Rel(cfg.Paths.SourceDir, cfg.Paths.WorkDir); err == nil && fileutil.Within(cfg.Paths.SourceDir, cfg.Paths.WorkDir) {
		nestedWork = filepath.ToSlash(rel)
	}
	buildOutput := filepath.ToSlash(filepath.Join(cfg.Frontend.Dir, cfg.Frontend.BuildDir))
	return func(rel string, d fs.DirEntry) bool {
		if rel == nestedWork || rel == buildOutput {
			return true
		}
		return d.IsDir() && skipNoise(rel)
	}
}

// materializeKeep lists what survives pruning: everything materializeSkip
// never copies, plus generator outputs when this run may reuse them instead
// of regenerating (auto mode or --skip-generate).
func materializeKeep(cfg *config.Config, opts Options) func(rel string, d fs.DirEntry) bool {
	skip := materializeSkip(cfg)
	var outputs []string
	if cfg.Generate.Mode == config.GenerateAuto || opts.SkipGenerate {
		outputs = cfg.Generate.Outputs
	}
	return func(rel string, d fs.DirEntry) bool {
		if skip(rel, d) {
			return true
		}
		for _, out := range outputs {
			if rel == filepath.ToSlash(out) {
				return true
			}
		}
		return false
	}
}

// backendInstallHandler inspects the poetry lock before installing.
type backendInstallHandler struct {
	command    commandHandler
	manifest   string
	lockfile   string
	strictLock bool
}

func (h backendInstallHandler) Execute(ctx context.Context, env stage.Env) error {
	if _, err := os.Stat(env.Path(h.manifest)); err != nil {
		return services.Wrap(services.ErrDependency, StageBackendInstall, "read manifest",
			h.manifest+" not found", err)
	}
	if err := h.checkLock(env); err != nil {
		return err
	}
	return h.command.Execute(ctx, env)
}

func (h backendInstallHandler) checkLock(env stage.Env) error {
	if h.lockfile == "" {
		return nil
	}
	if _, err := os.Stat(env.Path(h.lockfile)); errors.Is(err, fs.ErrNotExist) {
		if h.strictLock {
			return services.Wrap(services.ErrLockfileMismatch, StageBackendInstall, "check lockfile",
				h.lockfile+" not found", nil)
		}
		env.Logger.Debug("backend lockfile absent; dependencies will be resolved", logging.String("lockfile", h.lockfile))
		return nil
	}

	report, err := lockfile.CheckPoetry(env.Dir, h.manifest, h.lockfile)
	if err != nil {
		if h.strictLock {
			return services.Wrap(services.ErrLockfileMismatch, StageBackendInstall, "check lockfile", "", err)
		}
		logging.WarnWithContext(env.Logger, "backend lockfile could not be inspected", "backend_lock_unreadable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "set backend.strict_lock to fail on unreadable lockfiles"),
			logging.String(logging.FieldImpact, "installed versions may differ from the lockfile"),
		)
		return nil
	}
	if report.Consistent() {
		env.Logger.Debug("backend lockfile consistent", logging.Int("packages", report.Packages))
		return nil
	}
	if h.strictLock {
		return report.Err(StageBackendInstall)
	}
	logging.WarnWithContext(env.Logger, "backend lockfile out of date with manifest", "backend_lock_stale",
		logging.Bool("hash_mismatch", report.Stale()),
		logging.Strings("missing", report.Missing),
		logging.String(logging.FieldErrorHint, "run poetry lock, or enable backend.strict_lock"),
		logging.String(logging.FieldImpact, "poetry will resolve versions not pinned by the lockfile"),
	)
	return nil
}

// generateHandler runs the asset generator behind the freshness gate.
type generateHandler struct {
	command       commandHandler
	inputs        []string
	outputs       []string
	mode          string
	skipRequested bool
	stampPath     string
	// lastRecorded falls back to run history when the stamp is absent.
	lastRecorded func() (string, bool)
	state        *runState
}

func (h generateHandler) Execute(ctx context.Context, env stage.Env) error {
	fingerprint, err := InputsFingerprint(env.WorkRoot, h.inputs)
	if err != nil {
		return services.Wrap(services.ErrGeneration, StageGenerate, "fingerprint inputs", "", err)
	}
	h.state.generateFingerprint = fingerprint
	stamp, haveStamp := readStamp(h.stampPath)

	if h.skipRequested {
		previous, known := stamp, haveStamp
		if !known && h.lastRecorded != nil {
			previous, known = h.lastRecorded()
		}
		switch {
		case !known:
			logging.WarnWithContext(env.Logger, "no record of a previous generation", "generate_unknown",
				logging.String(logging.FieldErrorHint, "run without --skip-generate at least once"),
				logging.String(logging.FieldImpact, "the frontend may build without generated assets"),
			)
		case previous != fingerprint:
			logging.WarnWithContext(env.Logger, "generated assets are stale", "generate_stale",
				logging.String("recorded", shortKey(previous)),
				logging.String("current", shortKey(fingerprint)),
				logging.Strings("inputs", h.inputs),
				logging.String(logging.FieldErrorHint, "rerun without --skip-generate after changing backend or course sources"),
				logging.String(logging.FieldImpact, "the bundle will embed assets derived from older sources"),
			)
		}
		return stage.Skip("--skip-generate")
	}

	if h.mode == config.GenerateAuto && haveStamp && stamp == fingerprint {
		missing := missingOutputs(env.WorkRoot, h.outputs)
		if missing == "" {
			return stage.Skip("inputs unchanged (%s)", shortKey(fingerprint))
		}
		env.Logger.Info("inputs unchanged but generated output is missing; regenerating",
			logging.String("missing", missing))
	}

	if err := h.command.Execute(ctx, env); err != nil {
		return err
	}
	if err := writeStamp(h.stampPath, fingerprint); err != nil {
		logging.WarnWithContext(env.Logger, "unable to record generation fingerprint", "generate_stamp_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the next auto-mode run will regenerate"),
		)
	}
	return nil
}

// missingOutputs returns the first output absent from root, or "" when all
// exist. Without declared outputs nothing can be verified, so it reports the
// generator's output as missing.
func missingOutputs(root string, outputs []string) string {
	if len(outputs) == 0 {
		return "(generate.outputs not configured)"
	}
	for _, out := range outputs {
		if _, err := os.Stat(filepath.Join(root, out)); err != nil {
			return out
		}
	}
	return ""
}

func (h generateHandler) HealthCheck(ctx context.Context) stage.Health {
	return h.command.HealthCheck(ctx)
}

// frontendInstallHandler verifies the lockfile, then runs the exact install.
type frontendInstallHandler struct {
	command  commandHandler
	manifest string
	lockfile string
}

func (h frontendInstallHandler) Execute(ctx context.Context, env stage.Env) error {
	if _, err := os.Stat(env.Path(h.lockfile)); errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrLockfileMismatch, StageFrontendInstall, "check lockfile",
			h.lockfile+" not found; an exact install requires a lockfile", nil)
	}
	report, err := lockfile.CheckNPM(env.Dir, h.manifest, h.lockfile)
	if err != nil {
		return services.Wrap(services.ErrDependency, StageFrontendInstall, "check lockfile", "", err)
	}
	if err := report.Err(StageFrontendInstall); err != nil {
		return err
	}
	env.Logger.Info("frontend lockfile consistent",
		logging.Int("packages", report.Checked),
		logging.Int("lockfile_version", report.LockfileVersion),
	)

	drift := lockDriftDetector{cleanInstall: isCleanInstall(h.command.args)}
	err = h.command.run(ctx, env, h.command.env, drift.observe)
	if err != nil && drift.seen.Load() {
		return services.Wrap(services.ErrLockfileMismatch, StageFrontendInstall, "install",
			"package manager rejected the lockfile", err)
	}
	return err
}

func (h frontendInstallHandler) HealthCheck(ctx context.Context) stage.Health {
	return h.command.HealthCheck(ctx)
}

// lockDriftDetector watches install output for npm's refusal to install
// from a lockfile that does not match package.json. It sees every line, not
// just the tail kept on the exit error: npm prints the verdict first and a
// page of usage text after it.
type lockDriftDetector struct {
	cleanInstall bool
	seen         atomic.Bool
}

func (d *lockDriftDetector) observe(line string) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "are in sync"),
		strings.Contains(lower, "from lock file"),
		strings.Contains(lower, "lock file's"):
		d.seen.Store(true)
	case d.cleanInstall && strings.Contains(lower, "code eusage"):
		// npm ci has no other usage error for a well-formed invocation
		d.seen.Store(true)
	}
}

// isCleanInstall reports whether args is npm ci or one of its aliases.
func isCleanInstall(args []string) bool {
	if len(args) < 2 || filepath.Base(args[0]) != "npm" {
		return false
	}
	switch args[1] {
	case "ci", "clean-install", "ic", "install-clean", "isntall-clean":
		return true
	}
	return false
}

// buildHandler runs the bundler with the precache flag and checks its output.
type buildHandler struct {
	command       commandHandler
	precache      bool
	precacheEnv   string
	sources       []string
	buildDir      string
	stampPath     string
	skipRequested bool
	state         *runState
}

func (h buildHandler) Execute(ctx context.Context, env stage.Env) error {
	key, err := BuildCacheKey(env.Dir, h.sources, h.precache)
	if err != nil {
		return services.Wrap(services.ErrBuild, StageFrontendBuild, "compute cache key", "", err)
	}
	previous, havePrevious := readStamp(h.stampPath)

	if h.skipRequested {
		if havePrevious && previous != key {
			logging.WarnWithContext(env.Logger, "existing bundle was built from different inputs", "build_stale",
				logging.String("recorded", shortKey(previous)),
				logging.String("current", shortKey(key)),
				logging.Bool("precache", h.precache),
				logging.String(logging.FieldErrorHint, "rerun without --skip-frontend-build"),
				logging.String(logging.FieldImpact, "precache behaviour or sources may not match the configuration"),
			)
		}
		return stage.Skip("--skip-frontend-build")
	}

	h.state.buildKey = key
	output := env.Path(h.buildDir)
	if output == env.Dir || !fileutil.Within(env.Dir, output) {
		return services.Wrap(services.ErrConfiguration, StageFrontendBuild, "clear output",
			fmt.Sprintf("build output %s must be a subdirectory of %s", output, env.Dir), nil)
	}
	// the bundle must come from this build, not a previous one
	if err := os.RemoveAll(output); err != nil {
		return services.Wrap(services.ErrBuild, StageFrontendBuild, "clear output", "", err)
	}
	env.Logger.Info("building frontend bundle",
		logging.Bool("precache", h.precache),
		logging.String("cache_key", shortKey(key)),
		logging.Bool("inputs_changed", !havePrevious || previous != key),
	)
	if err := h.command.run(ctx, env, append(append([]string{}, h.command.env...), h.precacheEnv+"="+precacheFlag(h.precache)), nil); err != nil {
		return err
	}

	nonEmpty, err := fileutil.DirNonEmpty(output)
	if err != nil {
		return services.Wrap(services.ErrBuild, StageFrontendBuild, "inspect output", "", err)
	}
	if !nonEmpty {
		return services.Wrap(services.ErrBuild, StageFrontendBuild, "inspect output",
			fmt.Sprintf("build output %s is missing or empty", output), nil)
	}
	if err := writeStamp(h.stampPath, key); err != nil {
		logging.WarnWithContext(env.Logger, "unable to record build cache key", "build_stamp_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale bundle detection is unavailable for the next run"),
		)
	}
	return nil
}

func (h buildHandler) HealthCheck(ctx context.Context) stage.Health {
	return h.command.HealthCheck(ctx)
}

// overlayHandler copies the course service worker into the bundle. target
// is relative to the work root.
type overlayHandler struct {
	source    string
	target    string
	probeRoot string
}

func (h overlayHandler) Execute(_ context.Context, env stage.Env) error {
	src := filepath.Join(env.WorkRoot, h.source)
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		return services.Wrap(services.ErrOverlay, StageOverlay, "read source",
			"source file missing: "+h.source, err)
	}

	dst := h.target
	if !filepath.IsAbs(dst) {
		dst = filepath.Join(env.WorkRoot, dst)
	}
	dstDir := filepath.Dir(dst)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return services.Wrap(services.ErrOverlay, StageOverlay, "prepare destination",
			"destination unwritable: "+dstDir, err)
	}
	if err := unix.Access(dstDir, unix.W_OK); err != nil {
		return services.Wrap(services.ErrOverlay, StageOverlay, "prepare destination",
			"destination unwritable: "+dstDir, err)
	}

	sum, err := fileutil.ReplaceFileVerified(src, dst)
	if err != nil {
		return services.Wrap(services.ErrOverlay, StageOverlay, "copy", "", err)
	}
	env.Logger.Info("service worker overlaid",
		logging.String("source", src),
		logging.String("destination", dst),
		logging.String("sha256", shortKey(sum)),
		logging.Int64("bytes", info.Size()),
	)
	return nil
}

func (h overlayHandler) HealthCheck(context.Context) stage.Health {
	if info, err := os.Stat(filepath.Join(h.probeRoot, h.source)); err != nil || info.IsDir() {
		return stage.Unhealthy(StageOverlay, "service worker missing: "+h.source)
	}
	return stage.Healthy(StageOverlay)
}
