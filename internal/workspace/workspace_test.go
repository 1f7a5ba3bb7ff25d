package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/race"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShowOnlyPreservesOtherSettings(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	w := New(root, race.New(time.Second), nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".vscode"), 0o755))
	require.NoError(t, os.WriteFile(w.SettingsPath(),
		[]byte(`{"editor.tabSize":2,"files.exclude":{"node_modules":true}}`), 0o644))

	ctx := context.Background()
	require.NoError(t, w.ShowOnly(ctx, "todo-app", []string{"todo-app", "mint-nft"}))

	exclude, err := w.Excluded()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"node_modules": true, "todo-app": false, "mint-nft": true}, exclude)

	require.NoError(t, w.ShowOnly(ctx, "mint-nft", []string{"todo-app", "mint-nft"}))
	exclude, err = w.Excluded()
	require.NoError(t, err)
	assert.True(t, exclude["todo-app"])
	assert.False(t, exclude["mint-nft"])

	data, err := os.ReadFile(w.SettingsPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"editor.tabSize": 2`)
}

func TestShowOnlyFailsWhileSettingsClaimed(t *testing.T) {
	t.Parallel()

	races := race.New(10 * time.Millisecond)
	w := New(t.TempDir(), races, nil)
	require.True(t, races.TryClaim(w.SettingsPath()))
	defer races.Release(w.SettingsPath())

	err := w.Reveal(context.Background(), "todo-app")
	assert.ErrorIs(t, err, race.ErrClaimTimeout)
}

func TestShowOnlySwitchesDoNotInterleave(t *testing.T) {
	t.Parallel()

	projects := []string{"todo-app", "mint-nft", "escrow"}
	races := race.New(5 * time.Second)
	w := New(t.TempDir(), races, nil)
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		require.True(t, races.TryClaim(w.SettingsPath()))

		var wg sync.WaitGroup
		errs := make(chan error, len(projects))
		for _, p := range projects {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				errs <- w.ShowOnly(ctx, name, projects)
			}(p)
		}
		time.Sleep(20 * time.Millisecond)
		races.Release(w.SettingsPath())
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		exclude, err := w.Excluded()
		require.NoError(t, err)
		visible := 0
		for _, p := range projects {
			if !exclude[p] {
				visible++
			}
		}
		assert.Equal(t, 1, visible, "round %d: %v", round, exclude)
	}
}

func TestSeedWritesFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	races := race.New(time.Second)
	w := New(root, races, nil)

	err := w.Seed(context.Background(), "todo-app", []domain.SeedFile{
		{Path: "src/lib.rs", Contents: "fn main() {}\n"},
		{Path: "Cargo.toml", Contents: "[package]\n"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "todo-app", "src", "lib.rs"))
	require.NoError(t, err)
	assert.Equal(t, "fn main() {}\n", string(data))
	assert.False(t, races.Held(filepath.Join(root, "todo-app", "Cargo.toml")))
}

func TestSeedRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	w := New(t.TempDir(), race.New(time.Second), nil)
	err := w.Seed(context.Background(), "todo-app", []domain.SeedFile{{Path: "../../etc/passwd"}})
	assert.ErrorIs(t, err, ErrUnsafePath)
}
