package pipeline

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"futurebuild/internal/services"
	"futurebuild/internal/stage"
)

func TestDriverFailFastThreadsDirectories(t *testing.T) {
	var ran []string
	var dirs []string
	record := func(name string, err error) stage.Handler {
		return stage.HandlerFunc(func(_ context.Context, env stage.Env) error {
			ran = append(ran, name)
			dirs = append(dirs, env.Dir)
			return err
		})
	}
	exitErr := exec.Command("sh", "-c", "exit 4").Run()

	stages := []stage.Stage{
		{Name: "one", Handler: record("one", nil), Fatal: true},
		{Name: "two", Dir: "frontend", Handler: record("two", nil), Fatal: true},
		{Name: "three", Handler: record("three", exitErr), Fatal: true, Marker: services.ErrGeneration},
		{Name: "four", Handler: record("four", nil), Fatal: true},
	}

	var observed []string
	d := Driver{
		WorkRoot: "/work",
		Observe: func(_ int, st stage.Stage, res stage.Result) {
			observed = append(observed, st.Name+":"+string(res.Status))
		},
	}
	outcome := d.Run(context.Background(), stages)

	if diff := cmp.Diff([]string{"one", "two", "three"}, ran); diff != "" {
		t.Fatalf("executed stages mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/work", "/work/frontend", "/work/frontend"}, dirs); diff != "" {
		t.Fatalf("directories mismatch (-want +got):\n%s", diff)
	}
	want := []string{"one:succeeded", "two:succeeded", "three:failed", "four:skipped"}
	if diff := cmp.Diff(want, observed); diff != "" {
		t.Fatalf("observed results mismatch (-want +got):\n%s", diff)
	}

	failure, failed := outcome.Failure()
	if !failed || failure.Stage != "three" {
		t.Fatalf("expected failure at three, got %+v", failure)
	}
	if outcome.ExitCode() != 4 {
		t.Fatalf("ExitCode = %d, want 4", outcome.ExitCode())
	}
	if !errors.Is(outcome.Err(), services.ErrGeneration) {
		t.Fatalf("expected generation marker, got %v", outcome.Err())
	}
	if outcome.Results[3].Note != "not reached: three failed" {
		t.Fatalf("unexpected skip note %q", outcome.Results[3].Note)
	}
}

func TestDriverNonFatalAndDisabled(t *testing.T) {
	var ran []string
	handler := func(name string, err error) stage.Handler {
		return stage.HandlerFunc(func(context.Context, stage.Env) error {
			ran = append(ran, name)
			return err
		})
	}
	stages := []stage.Stage{
		{Name: "optional", Handler: handler("optional", errors.New("flaky")), Fatal: false},
		{Name: "disabled", Handler: handler("disabled", nil), Fatal: true, Disabled: "not configured"},
		{Name: "self-skip", Handler: handler("self-skip", stage.Skip("nothing to do")), Fatal: true},
		{Name: "last", Handler: handler("last", nil), Fatal: true},
	}
	outcome := (&Driver{WorkRoot: "/work"}).Run(context.Background(), stages)

	if !outcome.Succeeded() || outcome.ExitCode() != 0 {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if diff := cmp.Diff([]string{"optional", "self-skip", "last"}, ran); diff != "" {
		t.Fatalf("executed stages mismatch (-want +got):\n%s", diff)
	}
	statuses := make([]stage.Status, 0, len(outcome.Results))
	for _, res := range outcome.Results {
		statuses = append(statuses, res.Status)
	}
	want := []stage.Status{stage.StatusFailed, stage.StatusSkipped, stage.StatusSkipped, stage.StatusSucceeded}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Fatalf("statuses mismatch (-want +got):\n%s", diff)
	}
	if outcome.Results[2].Note != "nothing to do" {
		t.Fatalf("unexpected skip note %q", outcome.Results[2].Note)
	}
}

func TestDriverTimeout(t *testing.T) {
	stages := []stage.Stage{{
		Name:    "slow",
		Fatal:   true,
		Timeout: 50 * time.Millisecond,
		Marker:  services.ErrBuild,
		Handler: stage.HandlerFunc(func(ctx context.Context, _ stage.Env) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	}}
	outcome := (&Driver{WorkRoot: "/work"}).Run(context.Background(), stages)
	failure, failed := outcome.Failure()
	if !failed {
		t.Fatal("expected timeout failure")
	}
	if failure.Category() != "timeout" {
		t.Fatalf("Category = %q, want timeout", failure.Category())
	}
	if outcome.ExitCode() != services.ReservedExitCode {
		t.Fatalf("ExitCode = %d, want reserved", outcome.ExitCode())
	}
}

func TestDriverCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	stages := []stage.Stage{{
		Name:    "never",
		Fatal:   true,
		Marker:  services.ErrDependency,
		Handler: stage.HandlerFunc(func(context.Context, stage.Env) error { called = true; return nil }),
	}}
	outcome := (&Driver{WorkRoot: "/work"}).Run(ctx, stages)
	if called || outcome.Succeeded() {
		t.Fatalf("expected cancelled run without execution, called=%v", called)
	}
	if !errors.Is(outcome.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", outcome.Err())
	}
}

func TestResolveDirs(t *testing.T) {
	stages := []stage.Stage{{Name: "a"}, {Name: "b", Dir: "frontend"}, {Name: "c"}, {Name: "d", Dir: "."}}
	got := ResolveDirs("/w", stages)
	if diff := cmp.Diff([]string{"/w", "/w/frontend", "/w/frontend", "/w"}, got); diff != "" {
		t.Fatalf("ResolveDirs mismatch (-want +got):\n%s", diff)
	}
}
