package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"futurebuild/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv(config.PrecacheEnvVar, "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".local", "share", "futurebuild", "app")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.LogDir() != filepath.Join(tempHome, ".local", "share", "futurebuild", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.LogDir())
	}
	if cfg.Frontend.Precache {
		t.Fatal("expected precache disabled by default")
	}
	if cfg.Serve.Port != 3000 {
		t.Fatalf("unexpected serve port: %d", cfg.Serve.Port)
	}
	if cfg.BuildOutputDir() != filepath.Join(wantWork, "frontend", "build") {
		t.Fatalf("unexpected build dir: %q", cfg.BuildOutputDir())
	}
	if cfg.OverlayTargetPath() != filepath.Join(wantWork, "frontend", "build", "service-worker.js") {
		t.Fatalf("unexpected overlay target: %q", cfg.OverlayTargetPath())
	}
	if got := cfg.RuntimeInstallCommand(); strings.Join(got, " ") != "npm install -g npm@8.19.4" {
		t.Fatalf("unexpected runtime install command: %v", got)
	}
	if len(cfg.Backend.BinDirs) != 1 || cfg.Backend.BinDirs[0] != filepath.Join(tempHome, ".local", "bin") {
		t.Fatalf("unexpected backend bin dirs: %v", cfg.Backend.BinDirs)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv(config.PrecacheEnvVar, "")

	dir := t.TempDir()
	path := filepath.Join(dir, "futurebuild.toml")
	content := `
[paths]
source_dir = "` + filepath.Join(dir, "src") + `"
work_dir = "` + filepath.Join(dir, "work") + `"

[frontend]
precache = true
build_dir = "dist"

[generate]
mode = "AUTO"

[workflow]
default_timeout = 60

[workflow.stage_timeouts]
frontend-build = 600
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: %q exists=%v", resolved, exists)
	}
	if !cfg.Frontend.Precache {
		t.Fatal("expected precache enabled from file")
	}
	if cfg.Generate.Mode != config.GenerateAuto {
		t.Fatalf("expected mode normalized to auto, got %q", cfg.Generate.Mode)
	}
	if cfg.BuildOutputDir() != filepath.Join(dir, "work", "frontend", "dist") {
		t.Fatalf("unexpected build dir: %q", cfg.BuildOutputDir())
	}
	if got := cfg.StageTimeout("frontend-build"); got != 10*time.Minute {
		t.Fatalf("unexpected frontend-build timeout: %v", got)
	}
	if got := cfg.StageTimeout("generate"); got != time.Minute {
		t.Fatalf("unexpected default timeout: %v", got)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "futurebuild.toml")
	if err := os.WriteFile(path, []byte("[frontend]\nprecache = true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(config.PrecacheEnvVar, "0")
	t.Setenv(config.WorkDirEnvVar, filepath.Join(dir, "override"))
	t.Setenv(config.PortEnvVar, "8080")

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Frontend.Precache {
		t.Fatal("expected env to disable precache")
	}
	if cfg.Paths.WorkDir != filepath.Join(dir, "override") {
		t.Fatalf("unexpected work dir: %q", cfg.Paths.WorkDir)
	}
	if cfg.Serve.Port != 8080 {
		t.Fatalf("unexpected port: %d", cfg.Serve.Port)
	}
}

func TestInvalidPrecacheEnvRejected(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.PrecacheEnvVar, "maybe")
	if _, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected invalid boolean to fail")
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"1", true, false},
		{"TRUE", true, false},
		{" yes ", true, false},
		{"on", true, false},
		{"", false, false},
		{"0", false, false},
		{"off", false, false},
		{"perhaps", false, true},
	}
	for _, tt := range tests {
		got, err := config.ParseBool(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseBool(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseBool(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCreateSample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if decoded.Overlay.Source != "course/service-worker.js" {
		t.Fatalf("unexpected overlay source in sample: %q", decoded.Overlay.Source)
	}
	if decoded.Serve.Port != 3000 {
		t.Fatalf("unexpected port in sample: %d", decoded.Serve.Port)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"port", func(c *config.Config) { c.Serve.Port = 70000 }, "serve.port"},
		{"serve mode", func(c *config.Config) { c.Serve.Mode = "docker" }, "serve.mode"},
		{"generate mode", func(c *config.Config) { c.Generate.Mode = "sometimes" }, "generate.mode"},
		{"generate command", func(c *config.Config) { c.Generate.Command = nil }, "generate.command"},
		{"frontend install", func(c *config.Config) { c.Frontend.Install = nil }, "frontend.install"},
		{"absolute overlay", func(c *config.Config) { c.Overlay.Source = "/etc/passwd" }, "overlay"},
		{"escaping build dir", func(c *config.Config) { c.Frontend.BuildDir = "../out" }, "frontend.build_dir"},
		{"negative timeout", func(c *config.Config) { c.Workflow.StageTimeouts = map[string]int{"generate": -1} }, "workflow.stage_timeouts.generate"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"same dirs", func(c *config.Config) { c.Paths.WorkDir = c.Paths.SourceDir }, "paths.work_dir"},
		{"source inside work", func(c *config.Config) { c.Paths.SourceDir = "/work/src" }, "paths.source_dir"},
		{"build dir is frontend dir", func(c *config.Config) { c.Frontend.BuildDir = "." }, "frontend.build_dir"},
		{"absolute generate output", func(c *config.Config) { c.Generate.Outputs = []string{"/tmp/book"} }, "generate.outputs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Paths.SourceDir = "/src"
			cfg.Paths.WorkDir = "/work"
			cfg.Paths.StateDir = "/state"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestValidateSourceInsideWorkDir(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.WorkDir = "/build/work"
	cfg.Paths.SourceDir = "/build/work/..cache/src"
	cfg.Paths.StateDir = "/state"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "paths.source_dir") {
		t.Fatalf("a ..cache directory inside the work dir is still inside it, got %v", err)
	}

	cfg.Paths.SourceDir = "/build/..work-src"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sibling source dir rejected: %v", err)
	}
}
