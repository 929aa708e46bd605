package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"futurebuild/internal/fileutil"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validateGenerate(); err != nil {
		return err
	}
	if err := c.validateFrontend(); err != nil {
		return err
	}
	if err := c.validateOverlay(); err != nil {
		return err
	}
	if err := c.validateServe(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.WorkDir == c.Paths.SourceDir {
		return errors.New("paths.work_dir must differ from paths.source_dir")
	}
	if fileutil.Within(c.Paths.WorkDir, c.Paths.SourceDir) {
		return errors.New("paths.source_dir must not be inside paths.work_dir")
	}
	return nil
}

func (c *Config) validateBackend() error {
	if len(c.Backend.Install) == 0 {
		return errors.New("backend.install must be set")
	}
	if c.Backend.Manifest == "" {
		return errors.New("backend.manifest must be set")
	}
	if c.Backend.StrictLock && c.Backend.Lockfile == "" {
		return errors.New("backend.lockfile must be set when backend.strict_lock is true")
	}
	return nil
}

func (c *Config) validateGenerate() error {
	if len(c.Generate.Command) == 0 {
		return errors.New("generate.command must be set")
	}
	switch c.Generate.Mode {
	case GenerateAlways, GenerateAuto:
	default:
		return fmt.Errorf("generate.mode: unsupported value %q (want %q or %q)", c.Generate.Mode, GenerateAlways, GenerateAuto)
	}
	if c.Generate.Mode == GenerateAuto && len(c.Generate.Inputs) == 0 {
		return errors.New("generate.inputs must list at least one path when generate.mode is auto")
	}
	if err := ensureRelative("generate.inputs", c.Generate.Inputs...); err != nil {
		return err
	}
	return ensureRelative("generate.outputs", c.Generate.Outputs...)
}

func (c *Config) validateFrontend() error {
	if len(c.Frontend.Install) == 0 {
		return errors.New("frontend.install must be set")
	}
	if len(c.Frontend.Build) == 0 {
		return errors.New("frontend.build must be set")
	}
	if c.Frontend.Manifest == "" || c.Frontend.Lockfile == "" {
		return errors.New("frontend.manifest and frontend.lockfile must be set")
	}
	if err := ensureRelative("frontend.dir", c.Frontend.Dir); err != nil {
		return err
	}
	if err := ensureRelative("frontend.build_dir", c.Frontend.BuildDir); err != nil {
		return err
	}
	// the build directory is emptied before every build
	if c.Frontend.BuildDir == "." {
		return errors.New("frontend.build_dir must be a subdirectory of frontend.dir")
	}
	return ensureRelative("frontend.sources", c.Frontend.Sources...)
}

func (c *Config) validateOverlay() error {
	if strings.TrimSpace(c.Overlay.Source) == "" {
		return errors.New("overlay.source must be set")
	}
	if strings.TrimSpace(c.Overlay.Target) == "" {
		return errors.New("overlay.target must be set")
	}
	return ensureRelative("overlay", c.Overlay.Source, c.Overlay.Target)
}

func (c *Config) validateServe() error {
	// 0 asks the kernel for a free port
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port must be between 0 and 65535, got %d", c.Serve.Port)
	}
	switch c.Serve.Mode {
	case ServeExec:
		if len(c.Serve.Command) == 0 {
			return errors.New("serve.command must be set when serve.mode is exec")
		}
	case ServeStatic:
	default:
		return fmt.Errorf("serve.mode: unsupported value %q (want %q or %q)", c.Serve.Mode, ServeExec, ServeStatic)
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.DefaultTimeout < 0 {
		return errors.New("workflow.default_timeout must be >= 0")
	}
	for stage, seconds := range c.Workflow.StageTimeouts {
		if seconds < 0 {
			return fmt.Errorf("workflow.stage_timeouts.%s must be >= 0", stage)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensureRelative(field string, paths ...string) error {
	for _, p := range paths {
		if filepath.IsAbs(p) {
			return fmt.Errorf("%s: %q must be relative to paths.work_dir", field, p)
		}
		if p == ".." || strings.HasPrefix(p, "../") {
			return fmt.Errorf("%s: %q escapes paths.work_dir", field, p)
		}
	}
	return nil
}
