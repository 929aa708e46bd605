// Package history persists pipeline runs in SQLite so operators can see which
// stage failed, with what exit status, and which precache flag produced the
// current bundle.
//
// The store also keeps the last successful generator input fingerprint, which
// the pipeline uses to skip or warn about stale generated assets. History is
// advisory: the pipeline logs write failures and carries on.
package history
