package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// CommandSpec describes the process to spawn.
type CommandSpec struct {
	Binary string
	Args   []string
	Dir    string
}

// LineHandlers receive each output line in emission order, one goroutine per stream.
// Lines end at '\n' or '\r' and are capped at maxLineBytes; the overflow is dropped.
// ReadError reports a failed pipe read and never affects the exit status.
type LineHandlers struct {
	Stdout    func(string)
	Stderr    func(string)
	ReadError func(stream string, err error)
}

const maxLineBytes = 64 * 1024

// Process is a spawned command.
type Process interface {
	// Wait blocks until both output streams are drained and the process exits.
	// A non-nil error means no exit status could be obtained.
	Wait() (exitCode int, err error)
	PID() int
}

// Executor abstracts command execution for testability.
type Executor interface {
	Start(ctx context.Context, spec CommandSpec, handlers LineHandlers) (Process, error)
}

type commandExecutor struct{}

// Start spawns the command in its own process group so cancellation of ctx
// kills every descendant holding the output pipes.
func (commandExecutor) Start(ctx context.Context, spec CommandSpec, handlers LineHandlers) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) //nolint:gosec
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return err
		}
		return nil
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	p := &commandProcess{cmd: cmd}
	p.wg.Add(2)
	go p.scan("stdout", stdout, handlers.Stdout, handlers.ReadError)
	go p.scan("stderr", stderr, handlers.Stderr, handlers.ReadError)
	return p, nil
}

type commandProcess struct {
	cmd *exec.Cmd
	wg  sync.WaitGroup
}

func (p *commandProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *commandProcess) scan(stream string, r io.Reader, forward func(string), report func(string, error)) {
	defer p.wg.Done()
	if err := forwardLines(r, maxLineBytes, forward); err != nil {
		if report != nil {
			report(stream, err)
		}
		// Keep the pipe flowing so the child never blocks on a full buffer.
		_, _ = io.Copy(io.Discard, r)
	}
}

// forwardLines splits r into lines ending at '\n', '\r' or "\r\n" and passes
// each to forward with at most limit bytes kept. io.EOF is not an error.
func forwardLines(r io.Reader, limit int, forward func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	line := make([]byte, 0, 256)
	pending := false
	afterCR := false
	emit := func() {
		if forward != nil {
			forward(string(line))
		}
		line = line[:0]
		pending = false
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			if pending {
				emit()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch b {
		case '\n':
			if afterCR {
				afterCR = false
				continue
			}
			emit()
		case '\r':
			afterCR = true
			emit()
			continue
		default:
			pending = true
			if len(line) < limit {
				line = append(line, b)
			}
		}
		afterCR = false
	}
}

func (p *commandProcess) Wait() (int, error) {
	p.wg.Wait()
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait command: %w", err)
}
