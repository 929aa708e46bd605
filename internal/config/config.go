package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories the pipeline reads from and writes to.
type Paths struct {
	SourceDir string `toml:"source_dir"`
	WorkDir   string `toml:"work_dir"`
	StateDir  string `toml:"state_dir"`
	// Clean removes the working copy before materializing instead of copying over it.
	Clean bool `toml:"clean"`
}

// Backend contains the backend dependency manager commands and manifest locations.
type Backend struct {
	Bootstrap  []string `toml:"bootstrap"`
	Install    []string `toml:"install"`
	Manifest   string   `toml:"manifest"`
	Lockfile   string   `toml:"lockfile"`
	StrictLock bool     `toml:"strict_lock"`
	// BinDirs are prepended to PATH for every stage after the bootstrap so the
	// bootstrapped executable resolves for plain and privileged invocations.
	BinDirs []string `toml:"bin_dirs"`
}

// Generate contains configuration for the asset generation entry point.
type Generate struct {
	Command []string `toml:"command"`
	// Mode is "always" (run every build) or "auto" (skip when inputs are unchanged).
	Mode   string   `toml:"mode"`
	Inputs []string `toml:"inputs"`
	// Outputs are the paths the generator writes. Materialize keeps them when
	// generation may be skipped, and auto mode only skips while they exist.
	Outputs []string `toml:"outputs"`
}

// Frontend contains the frontend runtime, install, and build configuration.
type Frontend struct {
	Dir            string   `toml:"dir"`
	RuntimePackage string   `toml:"runtime_package"`
	RuntimeInstall []string `toml:"runtime_install"`
	Install        []string `toml:"install"`
	Build          []string `toml:"build"`
	Manifest       string   `toml:"manifest"`
	Lockfile       string   `toml:"lockfile"`
	BuildDir       string   `toml:"build_dir"`
	Precache       bool     `toml:"precache"`
	PrecacheEnv    string   `toml:"precache_env"`
	Sources        []string `toml:"sources"`
}

// Overlay names the course-content file copied into the build output.
type Overlay struct {
	Source string `toml:"source"`
	Target string `toml:"target"`
}

// Serve contains the runtime launcher contract.
type Serve struct {
	Bind       string   `toml:"bind"`
	Port       int      `toml:"port"`
	Mode       string   `toml:"mode"`
	Command    []string `toml:"command"`
	LiveReload bool     `toml:"live_reload"`
}

// Workflow contains per-stage execution limits.
type Workflow struct {
	DefaultTimeout int            `toml:"default_timeout"`
	StageTimeouts  map[string]int `toml:"stage_timeouts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for futurebuild.
//
// Configuration sections by subsystem:
//   - Paths: source tree, working copy, and state directories
//   - Backend: dependency manager bootstrap and install
//   - Generate: asset generation entry point and freshness inputs
//   - Frontend: pinned runtime, lockfile-exact install, and bundle build
//   - Overlay: service worker copied into the build output
//   - Serve: runtime port and start process
//   - Workflow: stage timeouts
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths"`
	Backend  Backend  `toml:"backend"`
	Generate Generate `toml:"generate"`
	Frontend Frontend `toml:"frontend"`
	Overlay  Overlay  `toml:"overlay"`
	Serve    Serve    `toml:"serve"`
	Workflow Workflow `toml:"workflow"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/futurebuild/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("futurebuild.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories futurebuild owns. The source tree
// is never created; it must already exist.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.StateDir, c.LogDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LogDir returns the directory holding per-run log files.
func (c *Config) LogDir() string {
	return filepath.Join(c.Paths.StateDir, "logs")
}

// HistoryPath returns the SQLite database recording pipeline runs.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// MarkerDir returns the bookkeeping directory inside the working copy. It is
// never copied from the source tree and disappears when the copy is cleaned.
func (c *Config) MarkerDir() string {
	return filepath.Join(c.Paths.WorkDir, ".futurebuild")
}

// GenerateStampPath returns the file recording the last successful generation fingerprint.
func (c *Config) GenerateStampPath() string {
	return filepath.Join(c.MarkerDir(), "generate.stamp")
}

// BuildStampPath returns the file recording the cache key of the current bundle.
func (c *Config) BuildStampPath() string {
	return filepath.Join(c.MarkerDir(), "build.stamp")
}

// FrontendDir returns the absolute frontend subtree inside the working copy.
func (c *Config) FrontendDir() string {
	return filepath.Join(c.Paths.WorkDir, c.Frontend.Dir)
}

// BuildOutputDir returns the absolute bundle output directory.
func (c *Config) BuildOutputDir() string {
	return filepath.Join(c.FrontendDir(), c.Frontend.BuildDir)
}

// OverlaySourcePath returns the absolute path of the service worker in the working copy.
func (c *Config) OverlaySourcePath() string {
	return filepath.Join(c.Paths.WorkDir, c.Overlay.Source)
}

// OverlayTargetPath returns the absolute destination of the service worker in the build output.
func (c *Config) OverlayTargetPath() string {
	return filepath.Join(c.BuildOutputDir(), c.Overlay.Target)
}

// StageTimeout returns the execution limit for the named stage; zero means unlimited.
func (c *Config) StageTimeout(stage string) time.Duration {
	if seconds, ok := c.Workflow.StageTimeouts[stage]; ok {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(c.Workflow.DefaultTimeout) * time.Second
}

// ServeAddress returns the host:port the runtime launcher binds.
func (c *Config) ServeAddress() string {
	return fmt.Sprintf("%s:%d", c.Serve.Bind, c.Serve.Port)
}

// RuntimeInstallCommand returns the full command that installs the pinned frontend runtime.
func (c *Config) RuntimeInstallCommand() []string {
	if len(c.Frontend.RuntimeInstall) == 0 || strings.TrimSpace(c.Frontend.RuntimePackage) == "" {
		return nil
	}
	cmd := append([]string{}, c.Frontend.RuntimeInstall...)
	return append(cmd, c.Frontend.RuntimePackage)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
