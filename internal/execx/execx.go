package execx

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Stream identifies which output pipe a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

const (
	tailLines     = 20
	killWaitDelay = 10 * time.Second
)

// Command describes one external program invocation.
type Command struct {
	Args []string
	Dir  string
	// Env entries (KEY=VALUE) override the inherited environment.
	Env []string
	// PathPrepend directories are searched before PATH, both for resolving
	// Args[0] and in the child's PATH.
	PathPrepend []string
}

// String renders the command line for logs and plans.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args))
	for _, arg := range c.Args {
		if arg == "" || strings.ContainsAny(arg, " \t\"'") {
			parts = append(parts, fmt.Sprintf("%q", arg))
			continue
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, cmd Command, onLine func(Stream, string)) error
}

// ExitError reports a command that ran and exited unsuccessfully.
type ExitError struct {
	Command string
	Code    int
	Reason  string
	Tail    []string
	err     error
}

func (e *ExitError) Error() string {
	var msg string
	switch {
	case e.Reason != "":
		msg = fmt.Sprintf("%s: %s (exit status %d)", e.Command, e.Reason, e.Code)
	case e.Code < 0:
		msg = fmt.Sprintf("%s: %v", e.Command, e.err)
	default:
		msg = fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	if len(e.Tail) > 0 {
		msg += " (last output: " + e.Tail[len(e.Tail)-1] + ")"
	}
	return msg
}

// ExitCode returns the process exit status, or -1 when terminated by a signal.
func (e *ExitError) ExitCode() int { return e.Code }

func (e *ExitError) Unwrap() error { return e.err }

// ProcessExecutor runs commands as child processes in their own process group
// so cancellation reaches the whole tree (npm and poetry spawn helpers).
type ProcessExecutor struct{}

// Run starts cmd and blocks until it exits, forwarding output lines to onLine.
func (ProcessExecutor) Run(ctx context.Context, c Command, onLine func(Stream, string)) error {
	if len(c.Args) == 0 {
		return errors.New("empty command")
	}
	env := mergeEnv(os.Environ(), c.Env, c.PathPrepend)

	binary, err := LookPath(c.Args[0], c.Dir, c.PathPrepend)
	if err != nil {
		// mirror the shell's "command not found" status
		return &ExitError{Command: c.String(), Code: 127, Reason: "command not found", err: err}
	}

	cmd := exec.CommandContext(ctx, binary, c.Args[1:]...) //nolint:gosec
	cmd.Dir = c.Dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return unix.Kill(-cmd.Process.Pid, unix.SIGTERM)
	}
	cmd.WaitDelay = killWaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	tail := newTailBuffer(tailLines)
	var wg sync.WaitGroup
	scan := func(r io.Reader, stream Stream) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			if onLine != nil {
				onLine(stream, line)
			}
		}
		// drain anything the scanner refused (overlong lines) so the child never blocks
		_, _ = io.Copy(io.Discard, r)
	}

	wg.Add(2)
	go scan(stdout, Stdout)
	go scan(stderr, Stderr)
	wg.Wait()

	waitErr := cmd.Wait()
	if waitErr == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", c.String(), ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExitError{Command: c.String(), Code: exitErr.ExitCode(), Tail: tail.lines(), err: waitErr}
	}
	return fmt.Errorf("wait command: %w", waitErr)
}

// LookPath resolves name the way Run does: paths containing a separator are
// taken relative to dir, bare names are searched in prepend and then PATH.
func LookPath(name, dir string, prepend []string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		candidate := name
		if !filepath.IsAbs(candidate) && dir != "" {
			candidate = filepath.Join(dir, candidate)
		}
		if !isExecutable(candidate) {
			return "", fmt.Errorf("%s: not an executable file", candidate)
		}
		return candidate, nil
	}
	for _, d := range prepend {
		candidate := filepath.Join(d, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return exec.LookPath(name)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode().Perm()&0o111 != 0
}

func mergeEnv(base, overrides, pathPrepend []string) []string {
	values := make(map[string]string, len(base)+len(overrides))
	order := make([]string, 0, len(base)+len(overrides))
	set := func(kv string) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return
		}
		if _, exists := values[key]; !exists {
			order = append(order, key)
		}
		values[key] = value
	}
	for _, kv := range base {
		set(kv)
	}
	for _, kv := range overrides {
		set(kv)
	}
	if len(pathPrepend) > 0 {
		parts := append([]string{}, pathPrepend...)
		if current := values["PATH"]; current != "" {
			parts = append(parts, current)
		}
		set("PATH=" + strings.Join(parts, string(os.PathListSeparator)))
	}
	out := make([]string, 0, len(order))
	for _, key := range order {
		out = append(out, key+"="+values[key])
	}
	return out
}

type tailBuffer struct {
	mu    sync.Mutex
	max   int
	items []string
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) add(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, line)
	if len(t.items) > t.max {
		t.items = t.items[len(t.items)-t.max:]
	}
}

func (t *tailBuffer) lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.items...)
}
