// Package workspace manages the learner's files: which project directories
// the editor shows and the seed files each lesson writes.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/ashureev/shsh-lessons/internal/race"
	"github.com/bytedance/sonic"
)

const (
	settingsDir  = ".vscode"
	settingsFile = "settings.json"
	excludeKey   = "files.exclude"
)

// ErrUnsafePath is returned for seed paths that escape the project directory.
var ErrUnsafePath = errors.New("workspace: path escapes project directory")

// Workspace performs file operations under a root directory. Every write
// is serialized per path through the race coordinator.
type Workspace struct {
	root   string
	races  *race.Coordinator
	logger *slog.Logger
}

// New creates a workspace rooted at root.
func New(root string, races *race.Coordinator, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{root: root, races: races, logger: logger}
}

// Root returns the workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// SettingsPath returns the editor settings file the visibility set lives in.
func (w *Workspace) SettingsPath() string {
	return filepath.Join(w.root, settingsDir, settingsFile)
}

// ShowOnly hides every project directory and reveals dashedName's in a
// single write, so overlapping switches never leave two projects visible.
func (w *Workspace) ShowOnly(ctx context.Context, dashedName string, projects []string) error {
	return w.updateExclude(ctx, func(exclude map[string]bool) {
		for _, p := range projects {
			exclude[p] = true
		}
		exclude[dashedName] = false
	})
}

// HideAll marks every project directory as excluded.
func (w *Workspace) HideAll(ctx context.Context, projects []string) error {
	return w.updateExclude(ctx, func(exclude map[string]bool) {
		for _, p := range projects {
			exclude[p] = true
		}
	})
}

// Reveal un-excludes one project directory.
func (w *Workspace) Reveal(ctx context.Context, dashedName string) error {
	return w.updateExclude(ctx, func(exclude map[string]bool) {
		exclude[dashedName] = false
	})
}

// Excluded returns the current exclusion map.
func (w *Workspace) Excluded() (map[string]bool, error) {
	settings, err := w.readSettings()
	if err != nil {
		return nil, err
	}
	return decodeExclude(settings)
}

func (w *Workspace) updateExclude(ctx context.Context, mutate func(map[string]bool)) error {
	path := w.SettingsPath()
	return w.races.Guard(ctx, path, func() error {
		settings, err := w.readSettings()
		if err != nil {
			return err
		}
		exclude, err := decodeExclude(settings)
		if err != nil {
			return err
		}
		mutate(exclude)

		raw, err := sonic.ConfigStd.Marshal(exclude)
		if err != nil {
			return fmt.Errorf("encode %s: %w", excludeKey, err)
		}
		settings[excludeKey] = raw

		data, err := sonic.ConfigStd.MarshalIndent(settings, "", "  ")
		if err != nil {
			return fmt.Errorf("encode editor settings: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create settings directory: %w", err)
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write editor settings: %w", err)
		}
		return nil
	})
}

func (w *Workspace) readSettings() (map[string]json.RawMessage, error) {
	settings := make(map[string]json.RawMessage)
	data, err := os.ReadFile(w.SettingsPath())
	if errors.Is(err, os.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read editor settings: %w", err)
	}
	if err := sonic.ConfigStd.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("decode editor settings: %w", err)
	}
	return settings, nil
}

func decodeExclude(settings map[string]json.RawMessage) (map[string]bool, error) {
	exclude := make(map[string]bool)
	raw, ok := settings[excludeKey]
	if !ok {
		return exclude, nil
	}
	if err := sonic.ConfigStd.Unmarshal(raw, &exclude); err != nil {
		return nil, fmt.Errorf("decode %s: %w", excludeKey, err)
	}
	return exclude, nil
}

// Seed writes a lesson's seed files into dir, relative to the workspace root.
func (w *Workspace) Seed(ctx context.Context, dir string, seeds []domain.SeedFile) error {
	base := filepath.Join(w.root, dir)
	for _, s := range seeds {
		if !filepath.IsLocal(s.Path) {
			return fmt.Errorf("%w: %s", ErrUnsafePath, s.Path)
		}
		path := filepath.Join(base, s.Path)
		err := w.races.Guard(ctx, path, func() error {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create seed directory: %w", err)
			}
			return os.WriteFile(path, []byte(s.Contents), 0o644)
		})
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.Path, err)
		}
		w.logger.Debug("Seeded file", "path", path)
	}
	return nil
}
