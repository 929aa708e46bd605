package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"futurebuild/internal/config"
	"futurebuild/internal/logging"
	"futurebuild/internal/serve"
	"futurebuild/internal/services"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port int
	var mode string
	var noReload bool
	var workingDir string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the built application",
		Long: `Start the application from the working copy. In exec mode the configured
start command runs in the frontend directory with PORT set, and futurebuild
exits with its status. In static mode the build output is served directly,
with live reload when the bundle changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyWorkingDir(cfg, workingDir); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Serve.Port = port
			}
			if cmd.Flags().Changed("mode") {
				if mode != config.ServeExec && mode != config.ServeStatic {
					return services.Wrap(services.ErrConfiguration, "serve", "parse flags",
						fmt.Sprintf("--mode must be %q or %q", config.ServeExec, config.ServeStatic), nil)
				}
				cfg.Serve.Mode = mode
			}
			if noReload {
				cfg.Serve.LiveReload = false
			}

			level := cfg.Logging.Level
			if override := ctx.logLevel(); override != "" {
				level = override
			}
			logger, err := logging.New(logging.Options{Level: level, Format: cfg.Logging.Format, Console: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			launcher := &serve.Launcher{
				Config: cfg,
				Logger: logger,
				Ready: func(addr string) {
					fmt.Fprintf(out, "Serving %s on http://%s\n", cfg.BuildOutputDir(), addr)
				},
			}
			return launcher.Run(signalCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides serve.port)")
	cmd.Flags().StringVar(&mode, "mode", "", "Launch mode: exec or static (overrides serve.mode)")
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "Disable live reload in static mode")
	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", "", "Working copy directory (overrides paths.work_dir)")
	return cmd
}
