// Package pipeline runs the ordered build stages that turn a source tree into
// a servable bundle: materialize, backend bootstrap and install, asset
// generation, pinned frontend runtime, lockfile-exact frontend install,
// frontend build, and the service worker overlay.
//
// The Driver executes any stage list with fail-fast semantics. The first fatal
// failure stops the run; later stages are recorded as skipped and nothing is
// rolled back. Each stage receives its working directory explicitly; the
// process working directory is never changed.
//
// Runner wraps the driver with the run lock, run history, generator freshness
// tracking, and the build cache key.
package pipeline
