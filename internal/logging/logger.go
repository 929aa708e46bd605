package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"futurebuild/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Console receives the interactive copy of every record. Defaults to stderr.
	Console io.Writer
	// FilePath, when set, receives an uncoloured copy of every record.
	FilePath    string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	addSource := opts.Development || level <= slog.LevelDebug

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = "console"
	}
	if format != "console" && format != "json" {
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	handlers := []slog.Handler{newHandler(format, console, levelVar, addSource, shouldColorize(console))}

	if path := strings.TrimSpace(opts.FilePath); path != "" {
		file, err := openLogFile(path)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, newHandler(format, file, levelVar, addSource, false))
	}

	return slog.New(newFanoutHandler(handlers...)), nil
}

// NewForRun creates the logger for one pipeline run. Records go to stderr and
// to <log_dir>/futurebuild-<run>.log; futurebuild.log is repointed at the new
// file and files older than the retention window are pruned.
func NewForRun(cfg *config.Config, runID, levelOverride string) (*slog.Logger, string, error) {
	if cfg == nil {
		logger, err := New(Options{Level: levelOverride})
		return logger, "", err
	}
	logDir := cfg.LogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("ensure log directory: %w", err)
	}

	stamp := time.Now().UTC().Format("20060102T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("futurebuild-%s-%s.log", stamp, shortID(runID)))

	level := cfg.Logging.Level
	if strings.TrimSpace(levelOverride) != "" {
		level = levelOverride
	}
	logger, err := New(Options{
		Level:    level,
		Format:   cfg.Logging.Format,
		FilePath: logPath,
	})
	if err != nil {
		return nil, "", err
	}

	if err := ensureCurrentLogPointer(logDir, logPath); err != nil {
		WarnWithContext(logger, "unable to update futurebuild.log link", "log_pointer_failed",
			Error(err),
			String(FieldImpact, "futurebuild.log may point at an older run"),
		)
	}
	CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		RetentionTarget{Dir: logDir, Pattern: "futurebuild-*.log", Exclude: []string{logPath}},
	)
	return logger, logPath, nil
}

func newHandler(format string, w io.Writer, lvl *slog.LevelVar, addSource, color bool) slog.Handler {
	if format == "json" {
		return newJSONHandler(w, lvl, addSource)
	}
	return newPrettyHandler(w, lvl, addSource, color)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "futurebuild.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func shouldColorize(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	if _, noColor := os.LookupEnv("NO_COLOR"); noColor {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "run"
	}
	return id
}
