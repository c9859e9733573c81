package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"audioseg/logger"
)

// Stream identifies which output of a process produced a line.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// LineHandler receives output lines as they arrive. Calls are serialized.
type LineHandler func(stream Stream, line string)

// Result is the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ProcessRunner runs one external program to completion.
type ProcessRunner interface {
	Run(ctx context.Context, program string, args []string, onLine LineHandler) (*Result, error)
}

// SpawnError means the program could not be started at all.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError means the program ran and exited non-zero.
type ExitError struct {
	Program string
	Code    int
	Output  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Program, e.Code)
}

const (
	maxStderrLines = 200
	waitDelay      = 5 * time.Second
)

// ExecRunner runs programs with os/exec. The context kills the child.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, program string, args []string, onLine LineHandler) (*Result, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.WaitDelay = waitDelay

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Program: program, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Program: program, Err: err}
	}

	logger.Debug("Executing process", logger.String("program", program), logger.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Program: program, Err: err}
	}

	var (
		handlerMu sync.Mutex
		stdout    bytes.Buffer
		stderr    []string
		wg        sync.WaitGroup
	)
	deliver := func(stream Stream, line string) {
		handlerMu.Lock()
		defer handlerMu.Unlock()
		if stream == Stdout {
			stdout.WriteString(line)
			stdout.WriteByte('\n')
		} else {
			stderr = append(stderr, line)
			if len(stderr) > maxStderrLines {
				stderr = stderr[1:]
			}
		}
		if onLine != nil {
			onLine(stream, line)
		}
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdoutPipe, Stdout, deliver)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderrPipe, Stderr, deliver)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: strings.Join(stderr, "\n"),
	}
	if waitErr == nil {
		return res, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s interrupted: %w", program, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, &ExitError{Program: program, Code: res.ExitCode, Output: res.Stderr}
	}
	res.ExitCode = -1
	return res, fmt.Errorf("%s failed: %w", program, waitErr)
}

func scanLines(r io.Reader, stream Stream, deliver func(Stream, string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesWithCR)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		deliver(stream, line)
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// scanLinesWithCR handles both \r and \n as line delimiters; ffmpeg rewrites
// its status line with \r.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// OutputTail extracts the trailing process output carried by err, if any.
func OutputTail(err error, n int) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return tail(exitErr.Output, n)
	}
	return ""
}
