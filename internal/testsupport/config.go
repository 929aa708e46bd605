package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"futurebuild/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Source, work, and state directories live under one temp root; the source
// directory is created empty unless WithProject seeds it.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SourceDir = filepath.Join(base, "src")
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Backend.BinDirs = []string{filepath.Join(base, "userbin")}
	cfgVal.Serve.Bind = "127.0.0.1"
	cfgVal.Serve.Port = 0
	if err := os.MkdirAll(cfgVal.Paths.SourceDir, 0o755); err != nil {
		t.Fatalf("mkdir source: %v", err)
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithProject seeds the source directory with a minimal project tree.
func WithProject() ConfigOption {
	return func(b *configBuilder) {
		SeedProject(b.t, b.cfg.Paths.SourceDir)
	}
}

// WithPrecache sets the frontend precache flag.
func WithPrecache(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Frontend.Precache = enabled
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. Every stub appends its name, arguments, and working
// directory to CallLog. If names is empty, the default pipeline tools are
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"python3", "poetry", "npm", "node"}
		}
		for _, name := range names {
			WriteStub(b.t, b.cfg, name, "exit 0\n")
		}
	}
}

// WithStub writes one stub executable whose body runs after the call is logged.
func WithStub(name, body string) ConfigOption {
	return func(b *configBuilder) {
		WriteStub(b.t, b.cfg, name, body)
	}
}

// WriteStub installs an executable shell script named name in the stub bin
// directory, puts that directory on PATH, and returns the script path.
func WriteStub(t testing.TB, cfg *config.Config, name, body string) string {
	t.Helper()
	binDir := StubDir(cfg)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin dir: %v", err)
	}
	script := "#!/bin/sh\n" +
		"echo \"" + name + " $* @$(pwd)\" >> \"" + CallLog(cfg) + "\"\n" +
		body
	target := filepath.Join(binDir, name)
	if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}

	current := os.Getenv("PATH")
	if !strings.HasPrefix(current, binDir+string(os.PathListSeparator)) {
		t.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// StubDir returns the directory holding stub executables.
func StubDir(cfg *config.Config) string {
	return filepath.Join(BaseDir(cfg), "bin")
}

// CallLog returns the file stubs append their invocations to.
func CallLog(cfg *config.Config) string {
	return filepath.Join(BaseDir(cfg), "calls.log")
}

// Calls returns the logged stub invocations in order.
func Calls(t testing.TB, cfg *config.Config) []string {
	t.Helper()
	data, err := os.ReadFile(CallLog(cfg))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("read call log: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
