// Package runlock prevents two pipeline runs from sharing one working directory.
package runlock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"

	"futurebuild/internal/services"
)

// Lock is an exclusive, advisory lock tied to a working directory.
type Lock struct {
	path string
	lock *flock.Flock
}

// PathFor returns the lock file guarding workDir. It sits beside the working
// directory rather than inside it because materialization may clear the
// directory's contents.
func PathFor(workDir string) string {
	clean := filepath.Clean(workDir)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
}

// Acquire takes the lock for workDir without blocking. A lock already held by
// another process yields services.ErrConcurrentRun.
func Acquire(workDir string) (*Lock, error) {
	path := PathFor(workDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}
	l := &Lock{path: path, lock: flock.New(path)}
	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		detail := "another futurebuild run is using " + workDir
		if pid := readOwner(path); pid != "" {
			detail += " (pid " + pid + ")"
		}
		return nil, services.Wrap(services.ErrConcurrentRun, "", "acquire run lock", detail, nil)
	}
	// owner pid is informational only
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return l, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if !l.lock.Locked() {
		return nil
	}
	return l.lock.Unlock()
}

func readOwner(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
