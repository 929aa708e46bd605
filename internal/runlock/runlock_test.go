package runlock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"futurebuild/internal/services"
)

func TestPathForIsSibling(t *testing.T) {
	got := PathFor("/var/lib/futurebuild/app/")
	if got != "/var/lib/futurebuild/.app.lock" {
		t.Fatalf("PathFor = %q", got)
	}
}

func TestAcquireRejectsConcurrentRun(t *testing.T) {
	workDir := filepath.Join(t.TempDir(), "app")

	first, err := Acquire(workDir)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(workDir)
	if !errors.Is(err, services.ErrConcurrentRun) {
		t.Fatalf("expected ErrConcurrentRun, got %v", err)
	}
	if !strings.Contains(err.Error(), "pid") {
		t.Fatalf("expected owner pid in error, got %q", err.Error())
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	again, err := Acquire(workDir)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = again.Release()
}
