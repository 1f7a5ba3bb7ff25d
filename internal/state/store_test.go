package state

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(filepath.Join(dir, "state.json"), filepath.Join(dir, "projects.json"), "", logger), dir
}

func TestGetStateMissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	st := s.GetState(context.Background())
	assert.Nil(t, st.CurrentProject)
	assert.Equal(t, "english", st.Locale)
}

func TestGetStateCorruptFileReturnsDefaults(t *testing.T) {
	t.Parallel()
	s, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o644))

	st := s.GetState(context.Background())
	assert.False(t, st.HasProject())
	assert.Equal(t, domain.DefaultLocale, st.Locale)
}

func TestSetStateMergesShallowly(t *testing.T) {
	t.Parallel()
	s, dir := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"),
		[]byte(`{"currentProject":null,"locale":"espanol","theme":"dark"}`), 0o644))

	before := s.GetState(ctx)
	require.NoError(t, s.SetState(ctx, Patch{"currentProject": "p1"}))
	after := s.GetState(ctx)

	require.NotNil(t, after.CurrentProject)
	assert.Equal(t, "p1", *after.CurrentProject)
	assert.Equal(t, before.Locale, after.Locale)

	data, err := os.ReadFile(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"theme": "dark"`)
}

func TestSetStateNilClearsProject(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetState(ctx, Patch{"currentProject": "p1"}))
	require.NoError(t, s.SetState(ctx, Patch{"currentProject": nil}))

	st := s.GetState(ctx)
	assert.Nil(t, st.CurrentProject)
	assert.Equal(t, "english", st.Locale)
}

func TestGetProjectConfigUnknownReturnsDefaults(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	cfg := s.GetProjectConfig(context.Background(), "todo-app")
	assert.Equal(t, domain.DefaultProjectConfig("todo-app"), cfg)
}

func TestGetProjectConfigMergesStoredOverrides(t *testing.T) {
	t.Parallel()
	s, dir := newTestStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "projects.json"),
		[]byte(`[{"dashedName":"todo-app","currentLesson":4,"runTestsOnWatch":true}]`), 0o644))

	cfg := s.GetProjectConfig(context.Background(), "todo-app")
	assert.Equal(t, 4, cfg.CurrentLesson)
	assert.True(t, cfg.RunTestsOnWatch)
	assert.Equal(t, domain.DefaultTestPollingRate, cfg.TestPollingRate)
	assert.Equal(t, 1, cfg.LastKnownLessonWithHash)
}

func TestSetProjectConfigCreatesAndUpdates(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetProjectConfig(ctx, "todo-app", Patch{"currentLesson": 3}))
	require.NoError(t, s.SetProjectConfig(ctx, "mint-nft", Patch{"seedEveryLesson": true}))
	require.NoError(t, s.SetProjectConfig(ctx, "todo-app", Patch{"testPollingRate": 50}))

	todo := s.GetProjectConfig(ctx, "todo-app")
	assert.Equal(t, 3, todo.CurrentLesson)
	assert.Equal(t, 50, todo.TestPollingRate)

	mint := s.GetProjectConfig(ctx, "mint-nft")
	assert.True(t, mint.SeedEveryLesson)
	assert.Equal(t, 1, mint.CurrentLesson)

	records, err := s.readProjects()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, -1, indexOf(records, "unknown"))
	assert.Equal(t, 0, indexOf(records, "todo-app"))
}

func TestCatalogueLookup(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "catalogue.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`[{"id":0,"dashedName":"todo-app"},{"id":"7","dashedName":"mint-nft","testCommand":"npm test"}]`), 0o644))
	c := NewCatalogue(path)

	p, err := c.FindByID("7")
	require.NoError(t, err)
	assert.Equal(t, "mint-nft", p.DashedName)

	p, err = c.FindByDashedName("todo-app")
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectID("0"), p.ID)

	_, err = c.FindByID("X")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	names, err := c.DashedNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"todo-app", "mint-nft"}, names)
}
