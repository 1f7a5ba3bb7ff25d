package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/lesson"
	"github.com/ashureev/shsh-lessons/internal/protocol"
	"github.com/ashureev/shsh-lessons/internal/state"
	"github.com/ashureev/shsh-lessons/internal/testrun"
	"github.com/ashureev/shsh-lessons/internal/watcher"
	"github.com/coder/websocket"
	"github.com/uber-go/tally"
)

const readLimit = 64 * 1024

// StateStore is the persisted learner state the handler reads and writes.
type StateStore interface {
	GetState(ctx context.Context) domain.WorkspaceState
	SetState(ctx context.Context, patch state.Patch) error
	GetProjectConfig(ctx context.Context, dashedName string) domain.ProjectConfig
}

// Catalogue resolves select-project requests.
type Catalogue interface {
	FindByID(id domain.ProjectID) (*domain.Project, error)
	DashedNames() ([]string, error)
}

// Visibility controls which project directories the editor shows.
type Visibility interface {
	ShowOnly(ctx context.Context, dashedName string, projects []string) error
}

// Lessons displays and navigates lessons.
type Lessons interface {
	RunLesson(ctx context.Context, client protocol.Client, cfg domain.ProjectConfig) error
	GoToNextLesson(ctx context.Context, client protocol.Client) error
	GoToPreviousLesson(ctx context.Context, client protocol.Client) error
}

// Tests runs lesson tests.
type Tests interface {
	RunTests(ctx context.Context, client protocol.Client, cfg domain.ProjectConfig) (*domain.TestResult, error)
	Forget(clientID string)
}

// Subscriber delivers workspace file events.
type Subscriber interface {
	Subscribe(h watcher.Handler) (unsubscribe func())
}

// Config wires a Handler.
type Config struct {
	State        StateStore
	Catalogue    Catalogue
	Visibility   Visibility
	Lessons      Lessons
	Tests        Tests
	Watcher      Subscriber
	Sessions     *Manager
	ClearConsole bool
	Logger       *slog.Logger
	Scope        tally.Scope
}

// Handler upgrades HTTP requests to lesson sessions.
type Handler struct {
	cfg    Config
	logger *slog.Logger
	scope  tally.Scope

	connected tally.Gauge
	panics    tally.Counter
}

// NewHandler creates a websocket session handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Scope == nil {
		cfg.Scope = tally.NoopScope
	}
	if cfg.Sessions == nil {
		cfg.Sessions = NewManager()
	}
	scope := cfg.Scope.SubScope("session")
	return &Handler{
		cfg:       cfg,
		logger:    cfg.Logger,
		scope:     scope,
		connected: scope.Gauge("connected"),
		panics:    scope.Counter("panics"),
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	ws.SetReadLimit(readLimit)

	sess := newSession(ws, h.logger)
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			sess.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.cfg.Sessions.Register(sess)
	h.connected.Update(float64(h.cfg.Sessions.Count()))
	defer func() {
		h.cfg.Sessions.Unregister(sess)
		h.connected.Update(float64(h.cfg.Sessions.Count()))
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var inflight sync.WaitGroup
	// Runs after every handler and refresh has finished.
	defer h.cfg.Tests.Forget(sess.id)
	// Registered early so it runs late: handlers finish before the
	// connection is torn down.
	defer inflight.Wait()
	defer cancel()

	if h.cfg.Watcher != nil {
		sub := watcher.NewSubscription(ctx, sess, watcher.Refresh{
			State:        h.cfg.State,
			Lessons:      h.cfg.Lessons,
			Tests:        h.cfg.Tests,
			ClearConsole: h.cfg.ClearConsole,
			Logger:       sess.logger,
			Scope:        h.cfg.Scope,
		})
		unsubscribe := h.cfg.Watcher.Subscribe(sub.Handle)
		defer sub.Close()
		defer unsubscribe()
	}

	sess.logger.Info("Session connected", "ip", r.RemoteAddr)
	if err := sess.Send(ctx, protocol.EventConnect, protocol.Greeting); err != nil {
		sess.logger.Debug("Failed to send greeting", "error", err)
		return
	}
	h.syncDisplay(ctx, sess)

	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				sess.logger.Info("Session closed by client")
			} else if ctx.Err() == nil {
				sess.logger.Debug("WebSocket read ended", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		cmd, msg, err := protocol.Decode(data)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownEvent) {
				sess.logger.Debug("Ignoring unknown event", "event", msg.Event)
			} else {
				sess.logger.Warn("Ignoring malformed message", "error", err)
			}
			continue
		}

		// Handlers run concurrently; completion order is not arrival order.
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.dispatch(ctx, sess, cmd)
		}()
	}
}

// dispatch runs one command. It always acknowledges with RESPONSE, even
// if the handler panics.
func (h *Handler) dispatch(ctx context.Context, sess *Session, cmd protocol.Command) {
	event := cmd.Event()
	h.scope.Tagged(map[string]string{"event": string(event)}).Counter("commands").Inc(1)

	defer func() {
		if rec := recover(); rec != nil {
			h.panics.Inc(1)
			sess.logger.Error("Command handler panicked", "event", event, "panic", rec)
			h.sendError(ctx, sess, protocol.ErrorInternal, fmt.Errorf("internal error handling %s", event))
		}
		if err := sess.Send(ctx, protocol.EventResponse, protocol.ResponseData{Event: event}); err != nil {
			sess.logger.Debug("Failed to acknowledge command", "event", event, "error", err)
		}
	}()

	sess.logger.Debug("Handling command", "event", event)
	switch c := cmd.(type) {
	case protocol.Connect:
		h.syncDisplay(ctx, sess)
	case protocol.RunTests:
		h.runTests(ctx, sess)
	case protocol.ResetProject, protocol.ResetLesson:
		// Reserved for resetting a project's files to a lesson's seed.
	case protocol.GoToNextLesson:
		h.navigate(ctx, sess, event, h.cfg.Lessons.GoToNextLesson)
	case protocol.GoToPreviousLesson:
		h.navigate(ctx, sess, event, h.cfg.Lessons.GoToPreviousLesson)
	case protocol.SelectProject:
		h.selectProject(ctx, sess, c.ID)
	default:
		sess.logger.Error("No handler for command", "event", event)
	}
}

// syncDisplay brings a (re)connected client in line with server state.
func (h *Handler) syncDisplay(ctx context.Context, sess *Session) {
	st := h.cfg.State.GetState(ctx)
	if !st.HasProject() {
		return
	}
	cfg := h.cfg.State.GetProjectConfig(ctx, st.Project())
	if err := h.cfg.Lessons.RunLesson(ctx, sess, cfg); err != nil {
		sess.logger.Debug("Initial lesson display failed", "error", err)
	}
}

func (h *Handler) runTests(ctx context.Context, sess *Session) {
	st := h.cfg.State.GetState(ctx)
	if !st.HasProject() {
		sess.logger.Debug("run-tests without a selected project")
		return
	}
	cfg := h.cfg.State.GetProjectConfig(ctx, st.Project())

	_, err := h.cfg.Tests.RunTests(ctx, sess, cfg)
	if errors.Is(err, testrun.ErrRunInProgress) {
		sess.logger.Info("Rejected overlapping test run")
		h.sendError(ctx, sess, protocol.ErrorRejected, err)
	}
}

func (h *Handler) navigate(ctx context.Context, sess *Session, event protocol.Event, move func(context.Context, protocol.Client) error) {
	err := move(ctx, sess)
	switch {
	case err == nil:
	case errors.Is(err, lesson.ErrNoProject):
		sess.logger.Debug("Navigation without a selected project", "event", event)
	default:
		sess.logger.Debug("Navigation reported error", "event", event, "error", err)
	}
}

func (h *Handler) selectProject(ctx context.Context, sess *Session, id domain.ProjectID) {
	project, err := h.cfg.Catalogue.FindByID(id)
	if err != nil {
		sess.logger.Warn("Selected project not found", "id", id, "error", err)
		if err := h.cfg.State.SetState(ctx, state.Patch{"currentProject": nil}); err != nil {
			sess.logger.Warn("Failed to clear project selection", "error", err)
		}
		return
	}

	if err := h.cfg.State.SetState(ctx, state.Patch{"currentProject": project.DashedName}); err != nil {
		sess.logger.Warn("Failed to persist project selection", "project", project.DashedName, "error", err)
	}
	sess.logger.Info("Project selected", "project", project.DashedName)

	if h.cfg.Visibility != nil {
		names, err := h.cfg.Catalogue.DashedNames()
		if err != nil {
			sess.logger.Warn("Failed to list projects", "error", err)
		} else if err := h.cfg.Visibility.ShowOnly(ctx, project.DashedName, names); err != nil {
			sess.logger.Warn("Failed to update visible files", "project", project.DashedName, "error", err)
		}
	}

	cfg := h.cfg.State.GetProjectConfig(ctx, project.DashedName)
	if err := h.cfg.Lessons.RunLesson(ctx, sess, cfg); err != nil {
		sess.logger.Debug("Lesson display after selection failed", "error", err)
	}
}

func (h *Handler) sendError(ctx context.Context, sess *Session, kind protocol.ErrorKind, err error) {
	if sendErr := sess.Send(ctx, protocol.EventUpdateError, protocol.ErrorData{Kind: kind, Message: err.Error()}); sendErr != nil {
		sess.logger.Debug("Failed to push error", "kind", kind, "error", sendErr)
	}
}
