package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"futurebuild/internal/services"
	"futurebuild/internal/testsupport"
)

func TestBuildCommandRecordsHistory(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"build", "--precache"}, env.configPath)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	requireContains(t, out, "Frontend Build")
	requireContains(t, out, "[OK] completed in")

	manifest := testsupport.ReadText(t, filepath.Join(env.cfg.BuildOutputDir(), "precache-manifest.txt"))
	if manifest != "precache=1\n" {
		t.Fatalf("--precache not applied, manifest %q", manifest)
	}
	overlaid := testsupport.ReadText(t, filepath.Join(env.cfg.BuildOutputDir(), "service-worker.js"))
	if overlaid != testsupport.ServiceWorker {
		t.Fatalf("service worker not overlaid: %q", overlaid)
	}

	out, _, err = runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "succeeded")
	fields := strings.Fields(strings.Split(out, "\n")[3])
	if len(fields) < 2 {
		t.Fatalf("unexpected history table:\n%s", out)
	}
	runID := fields[1]

	out, _, err = runCLI(t, []string{"history", "show", runID}, env.configPath)
	if err != nil {
		t.Fatalf("history show %s: %v", runID, err)
	}
	requireContains(t, out, "Backend Install")
	requireContains(t, out, "Overlay")
	requireContains(t, out, "Precache:")
}

func TestBuildCommandPropagatesExitCode(t *testing.T) {
	env := setupCLITestEnv(t)
	script := filepath.Join(env.cfg.Paths.SourceDir, "scripts", "generate.sh")
	testsupport.WriteText(t, script, "#!/bin/sh\necho 'FAILED test_step' >&2\nexit 3\n")
	testsupport.MakeExecutable(t, script)

	out, _, err := runCLI(t, []string{"build"}, env.configPath)
	if !errors.Is(err, services.ErrGeneration) {
		t.Fatalf("expected generation failure, got %v", err)
	}
	if code := services.ExitCode(err); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	requireContains(t, out, "generate failed (generation-failed, exit 3)")
	if _, statErr := os.Stat(env.cfg.BuildOutputDir()); !os.IsNotExist(statErr) {
		t.Fatal("build output exists although generate failed")
	}
}

func TestBuildCommandWorkingDirOverride(t *testing.T) {
	env := setupCLITestEnv(t)
	alt := filepath.Join(testsupport.BaseDir(env.cfg), "alt-work")

	if _, _, err := runCLI(t, []string{"build", "--working-dir", alt, "--skip-frontend-build"}, env.configPath); err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := os.Stat(filepath.Join(alt, "frontend", "package.json")); err != nil {
		t.Fatalf("working copy not materialized at override: %v", err)
	}
	if _, err := os.Stat(env.cfg.Paths.WorkDir); !os.IsNotExist(err) {
		t.Fatal("configured work dir used despite --working-dir")
	}
}

func TestPlanCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"plan", "--precache", "--skip-generate"}, env.configPath)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	requireContains(t, out, "Frontend Runtime")
	requireContains(t, out, "npm install -g npm@8.19.4")
	requireContains(t, out, "REACT_APP_PRECACHE=1")
	requireContains(t, out, "--skip-generate")
	if len(testsupport.Calls(t, env.cfg)) != 0 {
		t.Fatal("plan executed commands")
	}
}

func TestDoctorCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"doctor"}, env.configPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "Service worker:")
	requireContains(t, out, "Frontend Install:")

	if err := os.Remove(filepath.Join(env.cfg.Paths.SourceDir, "frontend", "package-lock.json")); err != nil {
		t.Fatal(err)
	}
	out, _, err = runCLI(t, []string{"doctor"}, env.configPath)
	if err == nil {
		t.Fatalf("expected doctor to fail without a lockfile:\n%s", out)
	}
	requireContains(t, out, "[ERROR]")
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestInvalidConfigIsConfigurationError(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteText(t, env.configPath, "[paths]\nunknown_key = 1\n")

	_, _, err := runCLI(t, []string{"plan"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, []string{"version"}, "")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, out, "futurebuild ")
}

func TestStageTitle(t *testing.T) {
	tests := map[string]string{
		"frontend-build":    "Frontend Build",
		"overlay":           "Overlay",
		"backend-bootstrap": "Backend Bootstrap",
	}
	for in, want := range tests {
		if got := stageTitle(in); got != want {
			t.Errorf("stageTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
