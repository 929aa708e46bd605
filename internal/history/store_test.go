package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"futurebuild/internal/history"
	"futurebuild/internal/testsupport"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.BeginRun(ctx, history.Run{
		ID:        "4f1c2d3e-0000-4000-8000-000000000001",
		WorkDir:   "/work",
		Options:   history.RunOptions{SkipGenerate: true, Precache: true},
		StartedAt: started,
		LogPath:   "/state/logs/futurebuild-1.log",
	})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	records := []history.StageRecord{
		{Position: 0, Name: "materialize", Status: "succeeded", Dir: "/work", StartedAt: started, Duration: 1500 * time.Millisecond},
		{Position: 1, Name: "generate", Status: "skipped", Note: "--skip-generate"},
		{Position: 2, Name: "frontend-install", Status: "failed", Dir: "/work/frontend", Command: "npm ci", ExitCode: 1, ErrorCategory: "lockfile-mismatch", ErrorMessage: "react: manifest wants ^18"},
	}
	for _, rec := range records {
		if err := store.RecordStage(ctx, "4f1c2d3e-0000-4000-8000-000000000001", rec); err != nil {
			t.Fatalf("RecordStage: %v", err)
		}
	}

	finished := started.Add(time.Minute)
	err = store.FinishRun(ctx, "4f1c2d3e-0000-4000-8000-000000000001", history.Outcome{
		Status:        history.RunFailed,
		ExitCode:      1,
		FailedStage:   "frontend-install",
		ErrorCategory: "lockfile-mismatch",
		FinishedAt:    finished,
	})
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	run, err := store.Get(ctx, "4f1c2d3e")
	if err != nil {
		t.Fatalf("Get by prefix: %v", err)
	}
	if run.Status != history.RunFailed || run.FailedStage != "frontend-install" || run.ExitCode != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if !run.Options.SkipGenerate || !run.Options.Precache {
		t.Fatalf("options not round-tripped: %+v", run.Options)
	}
	if run.Duration() != time.Minute {
		t.Fatalf("duration = %v, want 1m", run.Duration())
	}

	got, err := store.Stages(ctx, run.ID)
	if err != nil {
		t.Fatalf("Stages: %v", err)
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Fatalf("stage records mismatch (-want +got):\n%s", diff)
	}
}

func TestGetNotFoundAndAmbiguous(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	for _, id := range []string{"abc-1", "abc-2"} {
		if err := store.BeginRun(ctx, history.Run{ID: id, WorkDir: "/work"}); err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
	}
	if _, err := store.Get(ctx, "zzz"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Get(ctx, "abc"); !errors.Is(err, history.ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
	run, err := store.Get(ctx, "abc-2")
	if err != nil || run.ID != "abc-2" {
		t.Fatalf("exact lookup failed: %v %+v", err, run)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		if err := store.BeginRun(ctx, history.Run{ID: id, WorkDir: "/w", StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("BeginRun: %v", err)
		}
	}
	runs, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	if diff := cmp.Diff([]string{"run-c", "run-b"}, ids); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestFingerprints(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, ok, err := store.Fingerprint(ctx, "/w", history.FingerprintGenerate); err != nil || ok {
		t.Fatalf("expected no fingerprint, got ok=%v err=%v", ok, err)
	}
	if err := store.SaveFingerprint(ctx, "/w", history.FingerprintGenerate, "aaa", "run-1"); err != nil {
		t.Fatalf("SaveFingerprint: %v", err)
	}
	if err := store.SaveFingerprint(ctx, "/w", history.FingerprintGenerate, "bbb", "run-2"); err != nil {
		t.Fatalf("SaveFingerprint: %v", err)
	}
	rec, ok, err := store.Fingerprint(ctx, "/w", history.FingerprintGenerate)
	if err != nil || !ok {
		t.Fatalf("Fingerprint: ok=%v err=%v", ok, err)
	}
	if rec.Value != "bbb" || rec.RunID != "run-2" || rec.RecordedAt.IsZero() {
		t.Fatalf("unexpected fingerprint: %+v", rec)
	}
	if _, ok, err := store.Fingerprint(ctx, "/other", history.FingerprintGenerate); err != nil || ok {
		t.Fatalf("fingerprint leaked across working copies: ok=%v err=%v", ok, err)
	}
}

func TestMarkInterruptedAndPrune(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	old := time.Now().Add(-90 * 24 * time.Hour)

	if err := store.BeginRun(ctx, history.Run{ID: "old", WorkDir: "/w", StartedAt: old}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := store.BeginRun(ctx, history.Run{ID: "recent", WorkDir: "/w"}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := store.RecordStage(ctx, "old", history.StageRecord{Name: "materialize", Status: "succeeded"}); err != nil {
		t.Fatalf("RecordStage: %v", err)
	}
	if err := store.BeginRun(ctx, history.Run{ID: "elsewhere", WorkDir: "/other"}); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	n, err := store.MarkInterrupted(ctx, "/w")
	if err != nil || n != 2 {
		t.Fatalf("MarkInterrupted = %d, %v; want 2", n, err)
	}
	run, err := store.Get(ctx, "recent")
	if err != nil || run.Status != history.RunInterrupted || run.FinishedAt == nil {
		t.Fatalf("expected interrupted run, got %+v (%v)", run, err)
	}
	other, err := store.Get(ctx, "elsewhere")
	if err != nil || other.Status != history.RunRunning {
		t.Fatalf("run on another working copy should stay running, got %+v (%v)", other, err)
	}

	pruned, err := store.PruneBefore(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil || pruned != 1 {
		t.Fatalf("PruneBefore = %d, %v; want 1", pruned, err)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected pruned run to be gone, got %v", err)
	}
	stages, err := store.Stages(ctx, "old")
	if err != nil || len(stages) != 0 {
		t.Fatalf("expected cascaded stage delete, got %v %v", stages, err)
	}
}

func TestFinishUnknownRun(t *testing.T) {
	store := openStore(t)
	err := store.FinishRun(context.Background(), "missing", history.Outcome{Status: history.RunSucceeded})
	if !errors.Is(err, history.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenUpgradesVersionOneDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		"CREATE TABLE schema_version (version INTEGER NOT NULL)",
		"INSERT INTO schema_version (version) VALUES (1)",
		`CREATE TABLE runs (id TEXT PRIMARY KEY, status TEXT NOT NULL, work_dir TEXT NOT NULL,
			options_json TEXT, started_at TEXT NOT NULL, finished_at TEXT,
			exit_code INTEGER NOT NULL DEFAULT 0, failed_stage TEXT, error_category TEXT,
			error_message TEXT, build_key TEXT, precache INTEGER NOT NULL DEFAULT 0, log_path TEXT)`,
		"CREATE TABLE fingerprints (kind TEXT PRIMARY KEY, value TEXT NOT NULL, run_id TEXT, recorded_at TEXT NOT NULL)",
		"INSERT INTO fingerprints VALUES ('generate', 'old', 'run-0', '2026-01-01T00:00:00.000000000Z')",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed v1 schema: %v", err)
		}
	}
	_ = db.Close()

	store, err := history.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if _, ok, err := store.Fingerprint(ctx, "/w", history.FingerprintGenerate); err != nil || ok {
		t.Fatalf("unattributed fingerprint survived upgrade: ok=%v err=%v", ok, err)
	}
	if err := store.SaveFingerprint(ctx, "/w", history.FingerprintGenerate, "new", "run-1"); err != nil {
		t.Fatalf("SaveFingerprint after upgrade: %v", err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if _, err := history.OpenPath(path); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
