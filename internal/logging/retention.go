package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// RetentionTarget selects files in Dir whose names match Pattern. Paths in
// Exclude are never removed, whatever their age.
type RetentionTarget struct {
	Dir     string
	Pattern string
	Exclude []string
}

// CleanupOldLogs deletes matching files last modified more than retentionDays
// ago. retentionDays <= 0 keeps everything.
func CleanupOldLogs(logger *slog.Logger, retentionDays int, targets ...RetentionTarget) {
	if retentionDays <= 0 {
		return
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	for _, target := range targets {
		if target.Dir == "" {
			continue
		}
		pattern := target.Pattern
		if pattern == "" {
			pattern = "*"
		}
		matches, err := filepath.Glob(filepath.Join(target.Dir, pattern))
		if err != nil {
			continue
		}
		keep := make(map[string]bool, len(target.Exclude))
		for _, path := range target.Exclude {
			keep[filepath.Clean(path)] = true
		}
		for _, path := range matches {
			if keep[filepath.Clean(path)] {
				continue
			}
			info, err := os.Lstat(path)
			if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(path); err != nil {
				WarnWithContext(logger, "unable to remove expired log", "log_retention_failed",
					String("path", path),
					Error(err),
					String(FieldErrorHint, "check ownership of state_dir/logs"),
					String(FieldImpact, "old log file remains on disk"),
				)
				continue
			}
			logger.Debug("expired log removed", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
}
