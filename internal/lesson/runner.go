// Package lesson displays the learner's current lesson and moves them
// through a project's lesson sequence.
package lesson

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ashureev/shsh-lessons/internal/curriculum"
	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/protocol"
	"github.com/ashureev/shsh-lessons/internal/state"
	"github.com/ashureev/shsh-lessons/internal/testrun"
	"github.com/uber-go/tally"
)

var (
	// ErrNoSuchLesson is returned when the configured lesson index is
	// outside the project's lesson file.
	ErrNoSuchLesson = curriculum.ErrLessonNotFound
	// ErrNoProject is returned by navigation when nothing is selected.
	ErrNoProject = errors.New("no project selected")
	// ErrNoTestCommand is returned when neither the lesson nor the project
	// declares a test command.
	ErrNoTestCommand = errors.New("no test command for lesson")
)

// Store is the state the runner reads and writes.
type Store interface {
	GetState(ctx context.Context) domain.WorkspaceState
	GetProjectConfig(ctx context.Context, dashedName string) domain.ProjectConfig
	SetProjectConfig(ctx context.Context, dashedName string, patch state.Patch) error
}

// Curricula loads a project's lessons.
type Curricula interface {
	Load(locale, dashedName string) (*curriculum.Curriculum, error)
}

// Projects looks up catalogue entries.
type Projects interface {
	FindByDashedName(name string) (*domain.Project, error)
}

// Seeder writes lesson seed files into the workspace.
type Seeder interface {
	Seed(ctx context.Context, dir string, seeds []domain.SeedFile) error
}

// Runner resolves and displays lessons.
type Runner struct {
	store     Store
	curricula Curricula
	projects  Projects
	seeder    Seeder
	logger    *slog.Logger

	displayed tally.Counter
	moves     tally.Counter
	missing   tally.Counter
}

// NewRunner creates a lesson runner. seeder may be nil, in which case
// seedEveryLesson is ignored.
func NewRunner(store Store, curricula Curricula, projects Projects, seeder Seeder, logger *slog.Logger, scope tally.Scope) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	scope = scope.SubScope("lesson")
	return &Runner{
		store:     store,
		curricula: curricula,
		projects:  projects,
		seeder:    seeder,
		logger:    logger,
		displayed: scope.Counter("displayed"),
		moves:     scope.Counter("moves"),
		missing:   scope.Counter("missing"),
	}
}

func (r *Runner) project(dashedName string) *domain.Project {
	p, err := r.projects.FindByDashedName(dashedName)
	if err != nil {
		r.logger.Debug("Project missing from catalogue", "project", dashedName, "error", err)
		return &domain.Project{DashedName: dashedName}
	}
	return p
}

func projectDir(p *domain.Project) string {
	if p.TestDir != "" {
		return p.TestDir
	}
	return p.DashedName
}

func (r *Runner) resolve(ctx context.Context, cfg domain.ProjectConfig) (*domain.Project, domain.Lesson, error) {
	project := r.project(cfg.DashedName)
	locale := r.store.GetState(ctx).Locale

	cur, err := r.curricula.Load(locale, cfg.DashedName)
	if err != nil {
		return project, domain.Lesson{}, fmt.Errorf("load lessons for %s: %w", cfg.DashedName, err)
	}
	lesson, err := cur.Lesson(cfg.CurrentLesson)
	if err != nil {
		return project, domain.Lesson{}, err
	}
	return project, lesson, nil
}

// RunLesson pushes cfg's current lesson to client. Calling it repeatedly
// with the same config displays the same state.
func (r *Runner) RunLesson(ctx context.Context, client protocol.Client, cfg domain.ProjectConfig) error {
	_, err := r.display(ctx, client, cfg)
	return err
}

func (r *Runner) display(ctx context.Context, client protocol.Client, cfg domain.ProjectConfig) (domain.Lesson, error) {
	project, lesson, err := r.resolve(ctx, cfg)

	if sendErr := client.Send(ctx, protocol.EventUpdateProject, protocol.ProjectData{
		Project: project,
		Lesson:  cfg.CurrentLesson,
	}); sendErr != nil {
		r.logger.Debug("Failed to push project", "error", sendErr)
	}

	if err != nil {
		kind := protocol.ErrorInternal
		if errors.Is(err, ErrNoSuchLesson) {
			kind = protocol.ErrorNoSuchLesson
			r.missing.Inc(1)
		}
		r.logger.Warn("Cannot display lesson", "project", cfg.DashedName, "lesson", cfg.CurrentLesson, "error", err)
		r.sendError(ctx, client, kind, err)
		return domain.Lesson{}, err
	}

	r.displayed.Inc(1)
	if err := client.Send(ctx, protocol.EventUpdateDescription, protocol.DescriptionData{
		Lesson:      lesson.Number,
		Description: lesson.Description,
	}); err != nil {
		r.logger.Debug("Failed to push description", "error", err)
	}
	return lesson, nil
}

// GoToNextLesson advances the selected project by one lesson.
func (r *Runner) GoToNextLesson(ctx context.Context, client protocol.Client) error {
	return r.move(ctx, client, 1)
}

// GoToPreviousLesson moves the selected project back one lesson. It never
// goes below lesson 1; at lesson 1 it re-displays lesson 1.
func (r *Runner) GoToPreviousLesson(ctx context.Context, client protocol.Client) error {
	return r.move(ctx, client, -1)
}

func (r *Runner) move(ctx context.Context, client protocol.Client, delta int) error {
	st := r.store.GetState(ctx)
	if !st.HasProject() {
		return ErrNoProject
	}
	cfg := r.store.GetProjectConfig(ctx, st.Project())

	target := max(cfg.CurrentLesson+delta, 1)
	if target != cfg.CurrentLesson {
		if err := r.store.SetProjectConfig(ctx, cfg.DashedName, state.Patch{"currentLesson": target}); err != nil {
			r.logger.Warn("Failed to persist lesson change", "project", cfg.DashedName, "lesson", target, "error", err)
		}
		cfg.CurrentLesson = target
		r.moves.Inc(1)
	}
	r.logger.Info("Lesson changed", "project", cfg.DashedName, "lesson", cfg.CurrentLesson)

	lesson, err := r.display(ctx, client, cfg)
	if err == nil && cfg.SeedEveryLesson && r.seeder != nil && len(lesson.Seeds) > 0 {
		if seedErr := r.seeder.Seed(ctx, projectDir(r.project(cfg.DashedName)), lesson.Seeds); seedErr != nil {
			r.logger.Warn("Failed to seed lesson", "project", cfg.DashedName, "lesson", lesson.Number, "error", seedErr)
		}
	}

	r.clear(ctx, client)
	return err
}

// clear empties the hint, test and console panes so feedback from the
// previous lesson does not linger.
func (r *Runner) clear(ctx context.Context, client protocol.Client) {
	sends := []struct {
		event protocol.Event
		data  any
	}{
		{protocol.EventUpdateHints, ""},
		{protocol.EventUpdateTests, []domain.TestOutcome{}},
		{protocol.EventUpdateConsole, ""},
	}
	for _, s := range sends {
		if err := client.Send(ctx, s.event, s.data); err != nil {
			r.logger.Debug("Failed to clear display", "event", s.event, "error", err)
			return
		}
	}
}

// TestSpec resolves the test command for cfg's current lesson. A lesson's
// own command wins over the project's default.
func (r *Runner) TestSpec(ctx context.Context, cfg domain.ProjectConfig) (testrun.Spec, error) {
	project, lesson, err := r.resolve(ctx, cfg)
	if err != nil {
		return testrun.Spec{}, err
	}
	line := lesson.Command
	if line == "" {
		line = project.TestCommand
	}
	if line == "" {
		return testrun.Spec{}, fmt.Errorf("%w: %s lesson %d", ErrNoTestCommand, cfg.DashedName, lesson.Number)
	}
	return testrun.Spec{
		Project: cfg.DashedName,
		Lesson:  lesson.Number,
		Command: testrun.Command{
			Line: line,
			Dir:  projectDir(project),
			Env: []string{
				"LESSON_PROJECT=" + cfg.DashedName,
				"LESSON_NUMBER=" + strconv.Itoa(lesson.Number),
			},
		},
	}, nil
}

func (r *Runner) sendError(ctx context.Context, client protocol.Client, kind protocol.ErrorKind, err error) {
	if sendErr := client.Send(ctx, protocol.EventUpdateError, protocol.ErrorData{Kind: kind, Message: err.Error()}); sendErr != nil {
		r.logger.Debug("Failed to push error", "kind", kind, "error", sendErr)
	}
}
