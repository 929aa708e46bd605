package lockfile

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"futurebuild/internal/services"
)

const pyproject = `[tool.poetry]
name = "futurecoder"
version = "0.1.0"

[tool.poetry.dependencies]
python = "^3.10"
littleutils = "^0.2.2"
pyodide-worker-runner = { version = "^1.0", optional = true }

[tool.poetry.group.dev.dependencies]
pytest = "^7.0"
`

// sha256 of the relevant sections as serialized by poetry.
const pyprojectHash = "d2d370e7103beb09f664e4286fe5d3dfd38bf3751c1be468be953ee77940e2c4"

func writeBackend(t *testing.T, manifest, lock string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "poetry.lock"), []byte(lock), 0o644); err != nil {
		t.Fatalf("write lockfile: %v", err)
	}
	return dir
}

func TestCheckPoetryConsistent(t *testing.T) {
	dir := writeBackend(t, pyproject, `
[[package]]
name = "littleutils"
version = "0.2.2"

[[package]]
name = "pyodide_worker_runner"
version = "1.2.0"

[[package]]
name = "pytest"
version = "7.4.0"

[metadata]
lock-version = "2.0"
python-versions = "^3.10"
content-hash = "`+pyprojectHash+`"
`)

	report, err := CheckPoetry(dir, "pyproject.toml", "poetry.lock")
	if err != nil {
		t.Fatalf("CheckPoetry: %v", err)
	}
	if report.ExpectedHash != pyprojectHash {
		t.Fatalf("content hash = %s, want %s", report.ExpectedHash, pyprojectHash)
	}
	if !report.Consistent() || report.Err("backend-install") != nil {
		t.Fatalf("expected consistent report, got %+v", report)
	}
	if report.Packages != 3 {
		t.Fatalf("expected 3 packages, got %d", report.Packages)
	}
}

func TestCheckPoetryStaleAndMissing(t *testing.T) {
	dir := writeBackend(t, pyproject, `
[[package]]
name = "littleutils"
version = "0.2.2"

[metadata]
content-hash = "0000000000000000000000000000000000000000000000000000000000000000"
`)

	report, err := CheckPoetry(dir, "pyproject.toml", "poetry.lock")
	if err != nil {
		t.Fatalf("CheckPoetry: %v", err)
	}
	if !report.Stale() {
		t.Fatal("expected stale lock")
	}
	if diff := cmp.Diff([]string{"pyodide-worker-runner", "pytest"}, report.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
	if err := report.Err("backend-install"); !errors.Is(err, services.ErrLockfileMismatch) {
		t.Fatalf("expected lockfile mismatch, got %v", err)
	}

	report.LockedHash = report.ExpectedHash
	if err := report.Err("backend-install"); !errors.Is(err, services.ErrMissingDependency) {
		t.Fatalf("expected missing dependency, got %v", err)
	}
}

func TestPoetryContentHashProjectTable(t *testing.T) {
	project := map[string]any{
		"project": map[string]any{
			"name":            "futurecoder",
			"requires-python": ">=3.10",
			"dependencies":    []any{"littleutils>=0.2", "Café-lib==1.0"},
		},
	}
	got, err := poetryContentHash(project)
	if err != nil {
		t.Fatalf("poetryContentHash: %v", err)
	}
	if want := "e8aa1eb3772ef1ebdc6896180285a80156248a3194e2c754be781f3d281d6588"; got != want {
		t.Fatalf("hash = %s, want %s", got, want)
	}
	if names := declaredPythonDeps(project); !cmp.Equal(names, []string{"littleutils", "Café-lib"}) {
		t.Fatalf("unexpected declared deps: %v", names)
	}
}

func TestWritePythonJSON(t *testing.T) {
	var buf bytes.Buffer
	value := map[string]any{"b": []any{int64(1), true, nil}, "a": "é\n\U0001F600", "c": 1.5}
	if err := writePythonJSON(&buf, value); err != nil {
		t.Fatalf("writePythonJSON: %v", err)
	}
	want := `{"a": "\u00e9\n\ud83d\ude00", "b": [1, true, null], "c": 1.5}`
	if buf.String() != want {
		t.Fatalf("got %s, want %s", buf.String(), want)
	}
}

func TestCheckPoetryMissingFiles(t *testing.T) {
	if _, err := CheckPoetry(t.TempDir(), "pyproject.toml", "poetry.lock"); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}
