// Package logging assembles structured slog loggers and formatting helpers used
// across futurebuild.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so stage code can automatically
// tag log lines with run IDs and stage names. Each pipeline run tees its
// records to the terminal and to a per-run log file; the console copy is
// colourised only when stdout is a terminal.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape as the rest of the system.
package logging
