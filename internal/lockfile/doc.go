// Package lockfile verifies that dependency manifests and their lockfiles agree
// before an install runs.
//
// CheckNPM compares package.json against package-lock.json (lockfile versions
// 1 through 3) and reports packages that are missing from the lock or whose
// locked range or resolved version no longer satisfies the manifest. Any
// finding is returned as services.ErrLockfileMismatch or
// services.ErrMissingDependency so the install stage can fail before the
// package manager runs.
//
// CheckPoetry recomputes the poetry.lock content hash from pyproject.toml and
// lists declared dependencies absent from the lock. The backend install stage
// treats its result as advisory unless backend.strict_lock is enabled.
package lockfile
