package lesson

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-lessons/internal/curriculum"
	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/protocol"
	"github.com/ashureev/shsh-lessons/internal/race"
	"github.com/ashureev/shsh-lessons/internal/state"
	"github.com/ashureev/shsh-lessons/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const todoLessons = "# Todo App\n\n" +
	"## 1\n\n### --description--\n\nCreate the list.\n\n" +
	"## 2\n\n### --description--\n\nAdd an item.\n\n### --cmd--\n\n```sh\nnpm run test:2\n```\n\n" +
	"### --seed--\n\n#### --\"src/app.js\"--\n\n```js\nconst items = [];\n```\n\n" +
	"## 3\n\n### --description--\n\nRemove an item.\n\n" +
	"## --fcc-end--\n"

type message struct {
	event protocol.Event
	data  any
}

type recordingClient struct {
	mu   sync.Mutex
	msgs []message
}

func (c *recordingClient) ID() string { return "sess-1" }

func (c *recordingClient) Send(_ context.Context, event protocol.Event, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, message{event, data})
	return nil
}

func (c *recordingClient) take() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.msgs
	c.msgs = nil
	return out
}

func events(msgs []message) []protocol.Event {
	out := make([]protocol.Event, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.event)
	}
	return out
}

type fixture struct {
	root   string
	store  *state.Store
	runner *Runner
	client *recordingClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	curDir := filepath.Join(root, "curriculum", "locales")
	require.NoError(t, os.MkdirAll(filepath.Join(curDir, "english"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(curDir, "english", "todo-app.md"), []byte(todoLessons), 0o644))

	cataloguePath := filepath.Join(root, "catalogue.json")
	require.NoError(t, os.WriteFile(cataloguePath,
		[]byte(`[{"id":1,"dashedName":"todo-app","testCommand":"npm test"}]`), 0o644))

	store := state.NewStore(filepath.Join(root, "state.json"), filepath.Join(root, "projects.json"), "english", logger)
	require.NoError(t, store.SetState(context.Background(), state.Patch{"currentProject": "todo-app"}))

	ws := workspace.New(root, race.New(time.Second), logger)
	runner := NewRunner(store, &curriculum.Loader{Dir: curDir, DefaultLocale: "english"},
		state.NewCatalogue(cataloguePath), ws, logger, nil)

	return &fixture{root: root, store: store, runner: runner, client: &recordingClient{}}
}

func (f *fixture) lesson(t *testing.T) int {
	t.Helper()
	return f.store.GetProjectConfig(context.Background(), "todo-app").CurrentLesson
}

func TestRunLessonIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	cfg := f.store.GetProjectConfig(ctx, "todo-app")

	require.NoError(t, f.runner.RunLesson(ctx, f.client, cfg))
	first := f.client.take()
	require.NoError(t, f.runner.RunLesson(ctx, f.client, cfg))
	second := f.client.take()

	assert.Equal(t, first, second)
	assert.Equal(t, []protocol.Event{protocol.EventUpdateProject, protocol.EventUpdateDescription}, events(first))
	assert.Equal(t, protocol.DescriptionData{Lesson: 1, Description: "Create the list."}, first[1].data)
}

func TestNextThenPreviousRestoresLesson(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.runner.GoToNextLesson(ctx, f.client))
	assert.Equal(t, 2, f.lesson(t))
	msgs := f.client.take()
	assert.Equal(t, []protocol.Event{
		protocol.EventUpdateProject,
		protocol.EventUpdateDescription,
		protocol.EventUpdateHints,
		protocol.EventUpdateTests,
		protocol.EventUpdateConsole,
	}, events(msgs))

	require.NoError(t, f.runner.GoToPreviousLesson(ctx, f.client))
	assert.Equal(t, 1, f.lesson(t))
}

func TestPreviousLessonClampsAtOne(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, 1, f.lesson(t))

	require.NoError(t, f.runner.GoToPreviousLesson(ctx, f.client))
	assert.Equal(t, 1, f.lesson(t))

	msgs := f.client.take()
	require.NotEmpty(t, msgs)
	assert.Equal(t, protocol.ProjectData{Project: &domain.Project{ID: "1", DashedName: "todo-app", TestCommand: "npm test"}, Lesson: 1}, msgs[0].data)
	assert.Contains(t, events(msgs), protocol.EventUpdateHints)
}

func TestNextBeyondLastLessonReportsNoSuchLesson(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetProjectConfig(ctx, "todo-app", state.Patch{"currentLesson": 3}))

	err := f.runner.GoToNextLesson(ctx, f.client)
	require.ErrorIs(t, err, ErrNoSuchLesson)
	assert.Equal(t, 4, f.lesson(t))

	var got *protocol.ErrorData
	for _, m := range f.client.take() {
		if m.event == protocol.EventUpdateError {
			d := m.data.(protocol.ErrorData)
			got = &d
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, protocol.ErrorNoSuchLesson, got.Kind)
}

func TestNavigationWithoutProject(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetState(ctx, state.Patch{"currentProject": nil}))

	assert.ErrorIs(t, f.runner.GoToNextLesson(ctx, f.client), ErrNoProject)
	assert.Empty(t, f.client.take())
}

func TestSeedsOnLessonChangeWhenEnabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetProjectConfig(ctx, "todo-app", state.Patch{"seedEveryLesson": true}))

	require.NoError(t, f.runner.GoToNextLesson(ctx, f.client))
	data, err := os.ReadFile(filepath.Join(f.root, "todo-app", "src", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "const items = [];\n", string(data))
}

func TestTestSpecPrefersLessonCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	cfg := f.store.GetProjectConfig(ctx, "todo-app")

	spec, err := f.runner.TestSpec(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "npm test", spec.Command.Line)
	assert.Equal(t, "todo-app", spec.Command.Dir)

	cfg.CurrentLesson = 2
	spec, err = f.runner.TestSpec(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "npm run test:2", spec.Command.Line)
	assert.Equal(t, 2, spec.Lesson)
	assert.Contains(t, spec.Command.Env, "LESSON_NUMBER=2")

	cfg.CurrentLesson = 9
	_, err = f.runner.TestSpec(ctx, cfg)
	assert.ErrorIs(t, err, ErrNoSuchLesson)
}
