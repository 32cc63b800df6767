package ndkports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// outputTailBytes bounds the process output kept in memory per command.
const outputTailBytes = 64 * 1024

// Runner runs one external command to completion.
type Runner interface {
	Run(ctx context.Context, cmd *exec.Cmd) error
}

// CommandError reports a failed or aborted external command.
type CommandError struct {
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	name := "command"
	if len(e.Args) > 0 {
		name = e.Args[0]
	}
	if e.ExitCode >= 0 {
		return fmt.Sprintf("%s exited with code %d", name, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", name, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Executor runs external commands in their own process group, so that a
// cancelled or timed out command takes its children down with it.
type Executor struct {
	Timeout time.Duration // zero means no limit beyond the context
	Stdout  io.Writer     // optional extra sink, e.g. a per-ABI log file
	Stderr  io.Writer
}

func NewExecutor(timeout time.Duration, log io.Writer) *Executor {
	return &Executor{Timeout: timeout, Stdout: log, Stderr: log}
}

// Run executes cmd, capturing the tail of its combined output. A non-zero
// exit, a timeout or a cancellation is returned as *CommandError.
func (e *Executor) Run(ctx context.Context, cmd *exec.Cmd) error {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	// --- Phase 0: wire up output ---
	tail := newTailBuffer(outputTailBytes)
	cmd.Stdout = teeWriters(tail, cmd.Stdout, e.Stdout)
	cmd.Stderr = teeWriters(tail, cmd.Stderr, e.Stderr)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}

	// --- Phase 1: isolate process group for context-based cleanup ---
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	debugf("exec (%s): %s\n", cmd.Dir, strings.Join(cmd.Args, " "))
	if e.Stdout != nil {
		fmt.Fprintf(e.Stdout, "\n$ %s\n", strings.Join(cmd.Args, " "))
	}

	// --- Phase 2: start and watch for cancel ---
	if err := cmd.Start(); err != nil {
		return &CommandError{Args: cmd.Args, ExitCode: -1, Err: fmt.Errorf("failed to start command: %w", err)}
	}
	pgid := cmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()

	// --- Phase 3: wait and classify ---
	waitErr := cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) && e.Timeout > 0 {
			ctxErr = fmt.Errorf("command timed out after %s: %w", e.Timeout, ctxErr)
		}
		return &CommandError{Args: cmd.Args, ExitCode: -1, Output: tail.String(), Err: ctxErr}
	}
	if waitErr != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &CommandError{Args: cmd.Args, ExitCode: code, Output: tail.String(), Err: waitErr}
	}
	return nil
}

func teeWriters(ws ...io.Writer) io.Writer {
	var out []io.Writer
	for _, w := range ws {
		if w != nil {
			out = append(out, w)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return io.MultiWriter(out...)
}

// tailBuffer keeps the last limit bytes written to it. Stdout and stderr
// copiers write concurrently, so it is locked.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
