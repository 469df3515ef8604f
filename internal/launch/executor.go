package launch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// maxCapture bounds how much of each output stream is retained.
const maxCapture = 16 << 10

// Command is one external process invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	// OnStart is called with the process id once the process is running.
	OnStart func(pid int)
}

// Result is the outcome of a process that ran to exit.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs a command to exit. A non-zero exit is reported through
// Result.ExitCode, not the error; the error is reserved for processes that
// could not be started or waited on.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...) //nolint:gosec
	cmd.Dir = c.Dir
	stdout := &tailBuffer{limit: maxCapture}
	stderr := &tailBuffer{limit: maxCapture}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", c.Binary, err)
	}
	if c.OnStart != nil {
		c.OnStart(cmd.Process.Pid)
	}
	err := cmd.Wait()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return result, nil
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	default:
		return result, fmt.Errorf("wait %s: %w", c.Binary, err)
	}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return trimToRune(string(b.buf))
}
