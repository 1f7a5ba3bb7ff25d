package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/protocol"
	"github.com/fsnotify/fsnotify"
	"github.com/uber-go/tally"
)

// StateSource reads the persisted learner state.
type StateSource interface {
	GetState(ctx context.Context) domain.WorkspaceState
	GetProjectConfig(ctx context.Context, dashedName string) domain.ProjectConfig
}

// LessonRunner re-displays the current lesson.
type LessonRunner interface {
	RunLesson(ctx context.Context, client protocol.Client, cfg domain.ProjectConfig) error
}

// TestRunner runs the current lesson's tests. It must refuse to start a
// second run for a client whose previous run is still in flight.
type TestRunner interface {
	RunTests(ctx context.Context, client protocol.Client, cfg domain.ProjectConfig) (*domain.TestResult, error)
}

// Refresh holds what a subscription needs to react to file changes.
type Refresh struct {
	State        StateSource
	Lessons      LessonRunner
	Tests        TestRunner
	ClearConsole bool
	Logger       *slog.Logger
	Scope        tally.Scope
}

// Subscription is one client's reaction to workspace changes. Each
// subscription owns its own debounce gate.
type Subscription struct {
	ctx    context.Context
	cancel context.CancelFunc
	client protocol.Client
	deps   Refresh
	gate   Gate
	logger *slog.Logger

	triggers tally.Counter
	dropped  tally.Counter

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewSubscription creates a subscription for client. Refreshes run under a
// context derived from ctx and are cancelled by Close.
func NewSubscription(ctx context.Context, client protocol.Client, deps Refresh) *Subscription {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	scope := deps.Scope
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("watcher")

	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		ctx:      ctx,
		cancel:   cancel,
		client:   client,
		deps:     deps,
		logger:   logger.With("session_id", client.ID()),
		triggers: scope.Counter("triggers"),
		dropped:  scope.Counter("dropped"),
	}
}

// Window returns the debounce window configured for a project.
func Window(cfg domain.ProjectConfig) time.Duration {
	rate := cfg.TestPollingRate
	if rate <= 0 {
		rate = domain.DefaultTestPollingRate
	}
	return time.Duration(rate) * time.Millisecond
}

// Handle applies the debounce gate to event and, if it passes, starts a
// refresh in the background.
func (s *Subscription) Handle(event fsnotify.Event) {
	if s.gate.Pending() {
		s.dropped.Inc(1)
		return
	}

	st := s.deps.State.GetState(s.ctx)
	if !st.HasProject() {
		return
	}
	cfg := s.deps.State.GetProjectConfig(s.ctx, st.Project())

	if !s.gate.Trigger(Window(cfg)) {
		s.dropped.Inc(1)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.triggers.Inc(1)
	s.logger.Debug("Workspace change triggered refresh", "path", event.Name, "op", event.Op.String())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresh(cfg)
	}()
}

func (s *Subscription) refresh(cfg domain.ProjectConfig) {
	if s.deps.ClearConsole {
		if err := s.client.Send(s.ctx, protocol.EventUpdateConsole, ""); err != nil {
			s.logger.Debug("Failed to clear console", "error", err)
		}
	}

	if err := s.deps.Lessons.RunLesson(s.ctx, s.client, cfg); err != nil {
		s.logger.Debug("Lesson refresh reported error", "project", cfg.DashedName, "error", err)
	}

	if !cfg.RunTestsOnWatch || s.deps.Tests == nil {
		return
	}
	if _, err := s.deps.Tests.RunTests(s.ctx, s.client, cfg); err != nil {
		s.logger.Debug("Watch-triggered test run skipped", "project", cfg.DashedName, "error", err)
	}
}

// Close stops the gate and waits for any in-flight refresh.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.gate.Stop()
	s.wg.Wait()
}
