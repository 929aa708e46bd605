package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	writeScript(t, present)
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := CheckBinaries(reqs, nil)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available {
		t.Fatalf("expected missing binary to be unavailable")
	}
	if results[1].Detail == "" {
		t.Fatalf("expected detail message for missing binary")
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}

	missing := Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("Missing() = %#v", missing)
	}
}

func TestCheckBinariesSearchDirs(t *testing.T) {
	userBin := t.TempDir()
	writeScript(t, filepath.Join(userBin, "poetry"))
	t.Setenv("PATH", "")

	results := CheckBinaries([]Requirement{{Name: "Poetry", Command: "poetry"}}, []string{userBin})
	if !results[0].Available {
		t.Fatalf("expected poetry to resolve from the search dir, got %q", results[0].Detail)
	}
}

func TestCheckBinariesRelativeToDir(t *testing.T) {
	root := t.TempDir()
	writeScript(t, filepath.Join(root, "scripts", "generate.sh"))

	results := CheckBinaries([]Requirement{
		{Name: "Generator", Command: "./scripts/generate.sh", Dir: root},
		{Name: "Elsewhere", Command: "./scripts/generate.sh", Dir: t.TempDir()},
	}, nil)
	if !results[0].Available {
		t.Fatalf("expected generator to resolve under its dir: %q", results[0].Detail)
	}
	if results[1].Available {
		t.Fatal("relative command must not resolve outside its dir")
	}
}
