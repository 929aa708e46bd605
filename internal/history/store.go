package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = "id, status, work_dir, options_json, started_at, finished_at, exit_code, failed_stage, error_category, error_message, build_key, log_path"

// BeginRun inserts a run in the running state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("run id is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	opts, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("marshal run options: %w", err)
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO runs (id, status, work_dir, options_json, started_at, precache, log_path)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		RunRunning,
		run.WorkDir,
		string(opts),
		formatTime(run.StartedAt),
		boolToInt(run.Options.Precache),
		nullableString(run.LogPath),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordStage stores the result of one stage. Re-recording a position replaces it.
func (s *Store) RecordStage(ctx context.Context, runID string, rec StageRecord) error {
	var started any
	if !rec.StartedAt.IsZero() {
		started = formatTime(rec.StartedAt)
	}
	_, err := s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO stage_results (
            run_id, position, name, status, dir, command, exit_code,
            error_category, error_message, note, started_at, duration_ms
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		rec.Position,
		rec.Name,
		rec.Status,
		nullableString(rec.Dir),
		nullableString(rec.Command),
		rec.ExitCode,
		nullableString(rec.ErrorCategory),
		nullableString(rec.ErrorMessage),
		nullableString(rec.Note),
		started,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record stage %s: %w", rec.Name, err)
	}
	return nil
}

// FinishRun records the final status of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, outcome Outcome) error {
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, exit_code = ?, failed_stage = ?,
            error_category = ?, error_message = ?, build_key = COALESCE(?, build_key)
         WHERE id = ?`,
		outcome.Status,
		formatTime(outcome.FinishedAt),
		outcome.ExitCode,
		nullableString(outcome.FailedStage),
		nullableString(outcome.ErrorCategory),
		nullableString(outcome.ErrorMessage),
		nullableString(outcome.BuildKey),
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// List returns the most recent runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Get returns the run whose identifier equals or starts with id.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`,
		id, likePrefix(id)+"%", id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch {
	case len(matches) == 0:
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	case matches[0].ID == id || len(matches) == 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%s: %w", id, ErrAmbiguous)
	}
}

// Stages returns the recorded stage results of a run in execution order.
func (s *Store) Stages(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT position, name, status, dir, command, exit_code, error_category,
                error_message, note, started_at, duration_ms
         FROM stage_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var records []StageRecord
	for rows.Next() {
		var rec StageRecord
		var dir, command, category, message, note, startedRaw sql.NullString
		var durationMS int64
		if err := rows.Scan(&rec.Position, &rec.Name, &rec.Status, &dir, &command, &rec.ExitCode,
			&category, &message, &note, &startedRaw, &durationMS); err != nil {
			return nil, err
		}
		rec.Dir = dir.String
		rec.Command = command.String
		rec.ErrorCategory = category.String
		rec.ErrorMessage = message.String
		rec.Note = note.String
		rec.StartedAt = parseTime(startedRaw)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Fingerprint returns the last value stored for kind by runs on workDir.
func (s *Store) Fingerprint(ctx context.Context, workDir, kind string) (FingerprintRecord, bool, error) {
	rec := FingerprintRecord{WorkDir: workDir, Kind: kind}
	var runID, recorded sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT value, run_id, recorded_at FROM fingerprints WHERE work_dir = ? AND kind = ?`, workDir, kind,
	).Scan(&rec.Value, &runID, &recorded)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("read fingerprint %s: %w", kind, err)
	}
	rec.RunID = runID.String
	rec.RecordedAt = parseTime(recorded)
	return rec, true, nil
}

// SaveFingerprint stores value as the latest fingerprint for kind on workDir.
func (s *Store) SaveFingerprint(ctx context.Context, workDir, kind, value, runID string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO fingerprints (work_dir, kind, value, run_id, recorded_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(work_dir, kind) DO UPDATE SET value = excluded.value, run_id = excluded.run_id,
            recorded_at = excluded.recorded_at`,
		workDir, kind, value, nullableString(runID), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save fingerprint %s: %w", kind, err)
	}
	return nil
}

// MarkInterrupted closes runs on workDir left in the running state by a
// process that exited without finishing them. Callers must hold the run lock
// for workDir; runs on other working copies are untouched.
func (s *Store) MarkInterrupted(ctx context.Context, workDir string) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE runs SET status = ?, finished_at = COALESCE(finished_at, ?), exit_code = ?
         WHERE status = ? AND work_dir = ?`,
		RunInterrupted, formatTime(time.Now()), 1, RunRunning, workDir)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// PruneBefore deletes runs that started before cutoff, along with their stage results.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM runs WHERE started_at < ? AND status != ?`, formatTime(cutoff), RunRunning)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var run Run
	var status string
	var optionsRaw, startedRaw, finishedRaw sql.NullString
	var failedStage, category, message, key, logPath sql.NullString
	if err := scanner.Scan(&run.ID, &status, &run.WorkDir, &optionsRaw, &startedRaw, &finishedRaw,
		&run.ExitCode, &failedStage, &category, &message, &key, &logPath); err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if optionsRaw.Valid && optionsRaw.String != "" {
		if err := json.Unmarshal([]byte(optionsRaw.String), &run.Options); err != nil {
			return nil, fmt.Errorf("decode options for run %s: %w", run.ID, err)
		}
	}
	run.StartedAt = parseTime(startedRaw)
	if finishedRaw.Valid {
		finished := parseTime(finishedRaw)
		run.FinishedAt = &finished
	}
	run.FailedStage = failedStage.String
	run.ErrorCategory = category.String
	run.ErrorMessage = message.String
	run.BuildKey = key.String
	run.LogPath = logPath.String
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw sql.NullString) time.Time {
	if !raw.Valid || raw.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// likePrefix strips LIKE wildcards; run identifiers never contain them.
func likePrefix(value string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(value)
}
