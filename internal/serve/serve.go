package serve

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"futurebuild/internal/config"
	"futurebuild/internal/execx"
	"futurebuild/internal/logging"
	"futurebuild/internal/services"
)

const stageName = "serve"

// Launcher starts the runtime for one configuration.
type Launcher struct {
	Config   *config.Config
	Logger   *slog.Logger
	Executor execx.Executor
	// Ready, when set, receives the bound address once a static server listens.
	Ready func(addr string)
}

// Run blocks until the runtime exits or ctx is cancelled. Cancellation is a
// clean shutdown and returns nil.
func (l *Launcher) Run(ctx context.Context) error {
	cfg := l.Config
	if cfg == nil {
		return services.Wrap(services.ErrConfiguration, stageName, "start", "configuration is required", nil)
	}
	logger := logging.NewComponentLogger(l.Logger, "serve")

	switch cfg.Serve.Mode {
	case config.ServeStatic:
		return l.runStatic(ctx, logger)
	default:
		return l.runExec(ctx, logger)
	}
}

func (l *Launcher) runExec(ctx context.Context, logger *slog.Logger) error {
	cfg := l.Config
	dir := cfg.FrontendDir()
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return services.Wrap(services.ErrRuntimeStart, stageName, "locate frontend",
			"frontend directory "+dir+" not found; run futurebuild build first", err)
	}
	if len(cfg.Serve.Command) == 0 {
		return services.Wrap(services.ErrConfiguration, stageName, "start", "serve.command is empty", nil)
	}
	executor := l.Executor
	if executor == nil {
		executor = execx.ProcessExecutor{}
	}

	cmd := execx.Command{
		Args:        cfg.Serve.Command,
		Dir:         dir,
		Env:         []string{"PORT=" + strconv.Itoa(cfg.Serve.Port)},
		PathPrepend: cfg.Backend.BinDirs,
	}
	logger.Info("starting runtime",
		logging.String(logging.FieldEventType, "serve_start"),
		logging.String("command", cmd.String()),
		logging.String("dir", dir),
		logging.Int("port", cfg.Serve.Port),
	)
	err := executor.Run(ctx, cmd, func(stream execx.Stream, line string) {
		logger.Info(line, logging.String(logging.FieldStream, string(stream)))
	})
	switch {
	case err == nil:
		logger.Info("runtime exited", logging.String(logging.FieldEventType, "serve_exit"))
		return nil
	case ctx.Err() != nil:
		return nil
	}

	// a process that never started is a start failure; one that ran keeps its status
	var exitErr *execx.ExitError
	if !errors.As(err, &exitErr) || exitErr.Reason != "" {
		return services.Wrap(services.ErrRuntimeStart, stageName, "start", "", err)
	}
	return services.Wrap(services.ErrExternalTool, stageName, "run", "runtime process exited", err)
}

func (l *Launcher) runStatic(ctx context.Context, logger *slog.Logger) error {
	cfg := l.Config
	root := cfg.BuildOutputDir()
	srv, err := NewStaticServer(root, cfg.Serve.LiveReload, logger)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx, cfg.ServeAddress()); err != nil {
		return err
	}
	if l.Ready != nil {
		l.Ready(srv.Addr())
	}
	logger.Info("serving build output",
		logging.String(logging.FieldEventType, "serve_start"),
		logging.String("address", srv.Addr()),
		logging.String("root", filepath.Clean(root)),
		logging.Bool("live_reload", cfg.Serve.LiveReload),
	)
	<-ctx.Done()
	srv.Stop()
	logger.Info("server stopped", logging.String(logging.FieldEventType, "serve_exit"))
	return nil
}
