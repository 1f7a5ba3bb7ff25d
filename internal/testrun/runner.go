package testrun

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
)

// Exit statuses POSIX shells use when the command itself could not start.
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

var (
	// ErrLaunch matches every LaunchError.
	ErrLaunch = errors.New("test command could not be launched")
	// ErrRunInProgress is returned when a client already has a run in flight.
	ErrRunInProgress = errors.New("test run already in progress")
)

// LaunchError reports a test command that never ran, as opposed to one
// that ran and failed.
type LaunchError struct {
	Command string
	Reason  string
	Err     error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch %q: %s: %v", e.Command, e.Reason, e.Err)
	}
	return fmt.Sprintf("launch %q: %s", e.Command, e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLaunch) hold for any LaunchError.
func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// Command is a shell command line run in a directory relative to the
// runner's root.
type Command struct {
	Line string
	Dir  string
	Env  []string
}

// Output is what a finished command produced.
type Output struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Truncated bool
}

// CommandRunner executes test commands. A non-zero exit is reported in
// Output, not as an error; errors are reserved for launch failures.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// ShellRunner runs commands on the host through a POSIX shell.
type ShellRunner struct {
	Root        string
	Shell       string
	OutputLimit int
}

// Run implements CommandRunner.
func (r *ShellRunner) Run(ctx context.Context, cmd Command) (*Output, error) {
	dir := filepath.Join(r.Root, cmd.Dir)
	info, err := os.Stat(dir)
	if err != nil {
		reason := "working directory unavailable"
		if errors.Is(err, fs.ErrNotExist) {
			reason = "working directory does not exist"
		}
		return nil, &LaunchError{Command: cmd.Line, Reason: reason, Err: err}
	}
	if !info.IsDir() {
		return nil, &LaunchError{Command: cmd.Line, Reason: "working directory is not a directory"}
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	stdout := newRingBuffer(r.OutputLimit)
	stderr := newRingBuffer(r.OutputLimit)

	c := exec.CommandContext(ctx, shell, "-c", cmd.Line)
	c.Dir = dir
	c.Stdout = stdout
	c.Stderr = stderr
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	err = c.Run()
	out := &Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return nil, &LaunchError{Command: cmd.Line, Reason: "shell could not start", Err: err}
	}

	if lerr := shellLaunchFailure(cmd.Line, out); lerr != nil {
		return nil, lerr
	}
	return out, nil
}

func shellLaunchFailure(line string, out *Output) *LaunchError {
	switch out.ExitCode {
	case exitNotFound:
		return &LaunchError{Command: line, Reason: "executable not found", Err: errors.New(firstLine(out.Stderr))}
	case exitNotExecutable:
		return &LaunchError{Command: line, Reason: "executable not runnable", Err: errors.New(firstLine(out.Stderr))}
	}
	return nil
}
