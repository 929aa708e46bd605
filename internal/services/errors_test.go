package services_test

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"testing"

	"futurebuild/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrGeneration, "generate", "run", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrGeneration) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"generate", "run", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "stage failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestExitCodeFromCommand(t *testing.T) {
	runErr := exec.CommandContext(context.Background(), "sh", "-c", "exit 7").Run()
	if runErr == nil {
		t.Fatal("expected command failure")
	}
	wrapped := services.Wrap(services.ErrBuild, "frontend-build", "run", "", runErr)
	if code := services.ExitCode(wrapped); code != 7 {
		t.Fatalf("expected exit code 7, got %d", code)
	}
}

func TestExitCodeReserved(t *testing.T) {
	if code := services.ExitCode(nil); code != 0 {
		t.Fatalf("expected 0 for nil error, got %d", code)
	}
	if code := services.ExitCode(errors.New("no status")); code != services.ReservedExitCode {
		t.Fatalf("expected reserved code, got %d", code)
	}
}

func TestCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrLockfileMismatch, "frontend-install", "", "", nil), "lockfile-mismatch"},
		{services.Wrap(services.ErrMissingDependency, "frontend-install", "", "", nil), "missing-dependency"},
		{services.Wrap(services.ErrDependency, "backend-install", "", "", nil), "dependency-resolution-failure"},
		{fmt.Errorf("outer: %w", services.ErrGeneration), "generation-failed"},
		{services.ErrBuild, "build-failed"},
		{services.ErrMaterialize, "materialize-failed"},
		{services.ErrOverlay, "file-overlay-failure"},
		{services.ErrRuntimeStart, "runtime-start-failure"},
		{errors.New("other"), "external-tool"},
	}
	for _, tt := range tests {
		if got := services.Category(tt.err); got != tt.want {
			t.Fatalf("Category(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
