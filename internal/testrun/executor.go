// Package testrun executes lesson test commands and turns their output
// into per-test results for the browser.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/shsh-lessons/internal/curriculum"
	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/protocol"
	"github.com/uber-go/tally"
)

// Spec is a resolved test invocation for one lesson.
type Spec struct {
	Project string
	Lesson  int
	Command Command
}

// Resolver maps a project's current configuration to its test command.
type Resolver interface {
	TestSpec(ctx context.Context, cfg domain.ProjectConfig) (Spec, error)
}

// Recorder persists completed runs.
type Recorder interface {
	RecordRun(ctx context.Context, run *domain.TestRun) error
}

// Executor runs tests with at most one run in flight per client.
type Executor struct {
	resolver Resolver
	runner   CommandRunner
	recorder Recorder
	logger   *slog.Logger

	// locks maps client ID -> *sync.Mutex
	locks sync.Map

	runs         tally.Counter
	failed       tally.Counter
	launchErrors tally.Counter
	rejected     tally.Counter
	duration     tally.Timer
}

// NewExecutor wires an executor. recorder may be nil.
func NewExecutor(resolver Resolver, runner CommandRunner, recorder Recorder, logger *slog.Logger, scope tally.Scope) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("testrun")
	return &Executor{
		resolver:     resolver,
		runner:       runner,
		recorder:     recorder,
		logger:       logger,
		runs:         scope.Counter("runs"),
		failed:       scope.Counter("failed"),
		launchErrors: scope.Counter("launch_errors"),
		rejected:     scope.Counter("rejected"),
		duration:     scope.Timer("duration"),
	}
}

func (e *Executor) lock(clientID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(clientID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Forget drops the per-client lock once the client has disconnected.
func (e *Executor) Forget(clientID string) {
	e.locks.Delete(clientID)
}

// RunTests runs the current lesson's tests for client and pushes console
// output, per-test results and hints to it. It returns ErrRunInProgress
// without side effects if client already has a run in flight.
func (e *Executor) RunTests(ctx context.Context, client protocol.Client, cfg domain.ProjectConfig) (*domain.TestResult, error) {
	mu := e.lock(client.ID())
	if !mu.TryLock() {
		e.rejected.Inc(1)
		return nil, ErrRunInProgress
	}
	defer mu.Unlock()

	logger := e.logger.With("session_id", client.ID(), "project", cfg.DashedName, "lesson", cfg.CurrentLesson)

	spec, err := e.resolver.TestSpec(ctx, cfg)
	if err != nil {
		kind := protocol.ErrorInternal
		if errors.Is(err, curriculum.ErrLessonNotFound) {
			kind = protocol.ErrorNoSuchLesson
		}
		e.sendError(ctx, client, kind, err)
		return nil, fmt.Errorf("resolve test command: %w", err)
	}

	logger.Info("Running tests", "command", spec.Command.Line, "dir", spec.Command.Dir)
	start := time.Now()
	out, err := e.runner.Run(ctx, spec.Command)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, ErrLaunch) {
			e.launchErrors.Inc(1)
			logger.Warn("Test command failed to launch", "error", err)
			e.sendError(ctx, client, protocol.ErrorLaunch, err)
			return nil, err
		}
		logger.Error("Test command failed", "error", err)
		e.sendError(ctx, client, protocol.ErrorInternal, err)
		return nil, err
	}

	e.runs.Inc(1)
	e.duration.Record(elapsed)

	outcomes, hints := ParseOutput(out, fmt.Sprintf("lesson %d", spec.Lesson))
	result := &domain.TestResult{
		Project:  spec.Project,
		Lesson:   spec.Lesson,
		Outcomes: outcomes,
		Hints:    hints,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		Duration: elapsed,
	}
	passed, failed := result.Counts()
	if !result.Passed() {
		e.failed.Inc(1)
	}
	logger.Info("Tests finished",
		"exit_code", out.ExitCode,
		"passed", passed,
		"failed", failed,
		"truncated", out.Truncated,
		"duration_ms", elapsed.Milliseconds(),
	)

	e.record(ctx, result)
	e.push(ctx, client, result)
	return result, nil
}

func (e *Executor) record(ctx context.Context, result *domain.TestResult) {
	if e.recorder == nil {
		return
	}
	passed, failed := result.Counts()
	run := &domain.TestRun{
		Project:    result.Project,
		Lesson:     result.Lesson,
		Passed:     passed,
		Failed:     failed,
		ExitCode:   result.ExitCode,
		DurationMs: result.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.recorder.RecordRun(ctx, run); err != nil {
		e.logger.Warn("Failed to record test run", "project", result.Project, "error", err)
	}
}

func (e *Executor) push(ctx context.Context, client protocol.Client, result *domain.TestResult) {
	console := result.Stdout
	if result.Stderr != "" {
		if console != "" && !strings.HasSuffix(console, "\n") {
			console += "\n"
		}
		console += result.Stderr
	}
	sends := []struct {
		event protocol.Event
		data  any
	}{
		{protocol.EventUpdateConsole, console},
		{protocol.EventUpdateTests, result.Outcomes},
		{protocol.EventUpdateHints, strings.Join(result.Hints, "\n")},
	}
	for _, s := range sends {
		if err := client.Send(ctx, s.event, s.data); err != nil {
			e.logger.Debug("Failed to push test results", "event", s.event, "error", err)
			return
		}
	}
}

func (e *Executor) sendError(ctx context.Context, client protocol.Client, kind protocol.ErrorKind, err error) {
	data := protocol.ErrorData{Kind: kind, Message: err.Error()}
	if sendErr := client.Send(ctx, protocol.EventUpdateError, data); sendErr != nil {
		e.logger.Debug("Failed to push error", "kind", kind, "error", sendErr)
	}
}
