package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeBackend(); err != nil {
		return err
	}
	c.normalizeGenerate()
	c.normalizeFrontend()
	c.normalizeServe()
	c.normalizeLogging()
	return nil
}

func (c *Config) applyEnv() error {
	if value, ok := os.LookupEnv(PrecacheEnvVar); ok {
		enabled, err := ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", PrecacheEnvVar, err)
		}
		c.Frontend.Precache = enabled
	}
	if value, ok := os.LookupEnv(WorkDirEnvVar); ok && strings.TrimSpace(value) != "" {
		c.Paths.WorkDir = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv(PortEnvVar); ok && strings.TrimSpace(value) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", PortEnvVar, value)
		}
		c.Serve.Port = port
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.SourceDir) == "" {
		c.Paths.SourceDir = defaultSourceDir
	}
	if c.Paths.SourceDir, err = expandPath(c.Paths.SourceDir); err != nil {
		return fmt.Errorf("paths.source_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackend() error {
	c.Backend.Manifest = strings.TrimSpace(c.Backend.Manifest)
	c.Backend.Lockfile = strings.TrimSpace(c.Backend.Lockfile)
	dirs := make([]string, 0, len(c.Backend.BinDirs))
	for _, dir := range c.Backend.BinDirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		expanded, err := expandPath(strings.TrimSpace(dir))
		if err != nil {
			return fmt.Errorf("backend.bin_dirs: %w", err)
		}
		dirs = append(dirs, expanded)
	}
	c.Backend.BinDirs = dirs
	return nil
}

func (c *Config) normalizeGenerate() {
	c.Generate.Mode = strings.ToLower(strings.TrimSpace(c.Generate.Mode))
	if c.Generate.Mode == "" {
		c.Generate.Mode = GenerateAlways
	}
	c.Generate.Inputs = cleanRelative(c.Generate.Inputs)
	c.Generate.Outputs = cleanRelative(c.Generate.Outputs)
}

func (c *Config) normalizeFrontend() {
	c.Frontend.Dir = filepath.Clean(strings.TrimSpace(c.Frontend.Dir))
	if strings.TrimSpace(c.Frontend.BuildDir) == "" {
		c.Frontend.BuildDir = defaultBuildDir
	}
	c.Frontend.BuildDir = filepath.Clean(strings.TrimSpace(c.Frontend.BuildDir))
	c.Frontend.RuntimePackage = strings.TrimSpace(c.Frontend.RuntimePackage)
	c.Frontend.PrecacheEnv = strings.TrimSpace(c.Frontend.PrecacheEnv)
	if c.Frontend.PrecacheEnv == "" {
		c.Frontend.PrecacheEnv = defaultPrecacheEnv
	}
	c.Frontend.Sources = cleanRelative(c.Frontend.Sources)
}

func (c *Config) normalizeServe() {
	c.Serve.Bind = strings.TrimSpace(c.Serve.Bind)
	if c.Serve.Bind == "" {
		c.Serve.Bind = defaultServeBind
	}
	c.Serve.Mode = strings.ToLower(strings.TrimSpace(c.Serve.Mode))
	if c.Serve.Mode == "" {
		c.Serve.Mode = ServeExec
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func cleanRelative(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

// ParseBool interprets boolean-like environment values. Empty means false.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "y":
		return true, nil
	case "", "0", "false", "no", "off", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}
