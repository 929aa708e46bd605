// Package services defines shared utilities consumed by the pipeline stage
// handlers and the runtime launcher.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the build error taxonomy (dependency, lockfile, generation, build,
//     overlay, runtime start).
//   - ExitCode, which recovers the external command's exit status so the CLI
//     can exit with the failing stage's code.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
