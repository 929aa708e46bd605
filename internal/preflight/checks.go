package preflight

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"futurebuild/internal/config"
	"futurebuild/internal/deps"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCreatableDirectory passes when path is an accessible directory, or
// does not exist yet but its nearest existing ancestor is writable.
func CheckCreatableDirectory(name, path string) Result {
	if _, err := os.Stat(path); err == nil {
		return CheckDirectoryAccess(name, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	ancestor := filepath.Dir(path)
	for {
		if _, err := os.Stat(ancestor); err == nil {
			break
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			break
		}
		ancestor = parent
	}
	if err := unix.Access(ancestor, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create under %s: %v)", path, ancestor, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (created on first run)", path)}
}

// CheckFile verifies that a regular file exists and is readable.
func CheckFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// CheckServePort verifies that the serve address can be bound.
func CheckServePort(addr string) Result {
	const name = "Serve port"
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", addr, err)}
	}
	_ = ln.Close()
	return Result{Name: name, Passed: true, Detail: addr + " available"}
}

// CheckSystemDeps evaluates the external programs the configured stages run.
// Bootstrapped tools resolve through backend.bin_dirs like they do during a
// build, so a missing poetry before the first build is expected and optional.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "Python",
			Command:     firstArg(cfg.Backend.Bootstrap),
			Description: "Bootstraps the backend dependency manager",
			Optional:    len(cfg.Backend.Bootstrap) == 0,
		},
		{
			Name:        "Poetry",
			Command:     firstArg(cfg.Backend.Install),
			Description: "Installs backend dependencies",
			Optional:    len(cfg.Backend.Bootstrap) > 0,
		},
		{
			Name:        "Generator",
			Command:     firstArg(cfg.Generate.Command),
			Description: "Generates frontend assets from course content",
			Dir:         cfg.Paths.SourceDir,
		},
		{
			Name:        "npm",
			Command:     firstArg(cfg.Frontend.Install),
			Description: "Installs and builds the frontend",
		},
		{
			Name:        "Node.js",
			Command:     "node",
			Description: "Runs the frontend bundler",
		},
	}
	if cfg.Serve.Mode == config.ServeExec {
		requirements = append(requirements, deps.Requirement{
			Name:        "Serve command",
			Command:     firstArg(cfg.Serve.Command),
			Description: "Starts the development server",
			Optional:    true,
			Dir:         filepath.Join(cfg.Paths.SourceDir, cfg.Frontend.Dir),
		})
	}
	return deps.CheckBinaries(requirements, cfg.Backend.BinDirs)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}
