// Package state persists the learner's workspace state and per-project
// configuration as small JSON documents.
//
// Every mutation is a read-merge-write of the whole document with no
// locking: two concurrent writers can lose an update (last write wins).
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/bytedance/sonic"
)

const (
	docDirMode      = 0o755
	docFileMode     = 0o644
	tempFilePattern = ".lessond-*.json.tmp"
)

// Patch is a shallow set of document keys to overwrite. A nil value
// writes JSON null.
type Patch map[string]any

// Store reads and writes the workspace state and project config documents.
type Store struct {
	statePath     string
	projectsPath  string
	defaultLocale string
	logger        *slog.Logger
}

// NewStore creates a store backed by the two given document paths.
func NewStore(statePath, projectsPath, defaultLocale string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLocale == "" {
		defaultLocale = domain.DefaultLocale
	}
	return &Store{
		statePath:     statePath,
		projectsPath:  projectsPath,
		defaultLocale: defaultLocale,
		logger:        logger,
	}
}

func (s *Store) defaultState() domain.WorkspaceState {
	st := domain.DefaultWorkspaceState()
	st.Locale = s.defaultLocale
	return st
}

// GetState returns the persisted workspace state. Read or decode failures
// are logged and yield the default state.
func (s *Store) GetState(ctx context.Context) domain.WorkspaceState {
	if err := ctx.Err(); err != nil {
		return s.defaultState()
	}

	data, err := os.ReadFile(s.statePath)
	if err != nil {
		s.logger.Error("Failed to read workspace state", "path", s.statePath, "error", err)
		return s.defaultState()
	}

	st := s.defaultState()
	if err := sonic.ConfigStd.Unmarshal(data, &st); err != nil {
		s.logger.Error("Failed to decode workspace state", "path", s.statePath, "error", err)
		return s.defaultState()
	}
	if st.Locale == "" {
		st.Locale = s.defaultLocale
	}
	return st
}

// SetState merges patch over the stored state and writes the result back.
func (s *Store) SetState(ctx context.Context, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := s.readStateDoc()
	if err != nil {
		s.logger.Error("Failed to read workspace state for update, starting from defaults", "path", s.statePath, "error", err)
		if doc, err = toDoc(s.defaultState()); err != nil {
			return err
		}
	}

	if err := merge(doc, patch); err != nil {
		return err
	}

	if err := writeDoc(s.statePath, doc); err != nil {
		s.logger.Error("Failed to write workspace state", "path", s.statePath, "error", err)
		return err
	}
	return nil
}

// GetProjectConfig returns the stored configuration of the named project
// merged over the defaults. Unknown projects yield the defaults verbatim.
func (s *Store) GetProjectConfig(ctx context.Context, dashedName string) domain.ProjectConfig {
	cfg := domain.DefaultProjectConfig(dashedName)
	if err := ctx.Err(); err != nil {
		return cfg
	}

	records, err := s.readProjects()
	if err != nil {
		s.logger.Error("Failed to read project configs", "path", s.projectsPath, "error", err)
		return cfg
	}

	i := indexOf(records, dashedName)
	if i < 0 {
		return cfg
	}

	raw, err := sonic.ConfigStd.Marshal(records[i])
	if err != nil {
		s.logger.Error("Failed to encode project config", "project", dashedName, "error", err)
		return domain.DefaultProjectConfig(dashedName)
	}
	if err := sonic.ConfigStd.Unmarshal(raw, &cfg); err != nil {
		s.logger.Error("Failed to decode project config", "project", dashedName, "error", err)
		return domain.DefaultProjectConfig(dashedName)
	}
	cfg.DashedName = dashedName
	return cfg
}

// SetProjectConfig merges patch into the named project's record, creating
// it from the defaults if absent, and rewrites the whole collection.
func (s *Store) SetProjectConfig(ctx context.Context, dashedName string, patch Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	records, err := s.readProjects()
	if err != nil {
		s.logger.Error("Failed to read project configs for update, starting empty", "path", s.projectsPath, "error", err)
		records = nil
	}

	i := indexOf(records, dashedName)
	if i < 0 {
		rec, err := toDoc(domain.DefaultProjectConfig(dashedName))
		if err != nil {
			return err
		}
		records = append(records, rec)
		i = len(records) - 1
	}

	if err := merge(records[i], patch); err != nil {
		return err
	}
	name, err := sonic.ConfigStd.Marshal(dashedName)
	if err != nil {
		return fmt.Errorf("encode dashed name: %w", err)
	}
	records[i]["dashedName"] = name

	if err := writeDoc(s.projectsPath, records); err != nil {
		s.logger.Error("Failed to write project configs", "path", s.projectsPath, "error", err)
		return err
	}
	return nil
}

func (s *Store) readStateDoc() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.statePath)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	doc := make(map[string]json.RawMessage)
	if err := sonic.ConfigStd.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return doc, nil
}

func (s *Store) readProjects() ([]map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.projectsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project configs: %w", err)
	}
	var records []map[string]json.RawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode project configs: %w", err)
	}
	for i := range records {
		if records[i] == nil {
			records[i] = make(map[string]json.RawMessage)
		}
	}
	return records, nil
}

func indexOf(records []map[string]json.RawMessage, dashedName string) int {
	for i, rec := range records {
		var name string
		if raw, ok := rec["dashedName"]; ok && sonic.ConfigStd.Unmarshal(raw, &name) == nil && name == dashedName {
			return i
		}
	}
	return -1
}

func toDoc(v any) (map[string]json.RawMessage, error) {
	raw, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	doc := make(map[string]json.RawMessage)
	if err := sonic.ConfigStd.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

func merge(doc map[string]json.RawMessage, patch Patch) error {
	for key, value := range patch {
		raw, err := sonic.ConfigStd.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode patch key %q: %w", key, err)
		}
		doc[key] = raw
	}
	return nil
}

// writeDoc replaces path atomically via a temp file in the same directory.
func writeDoc(path string, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, docDirMode); err != nil {
		return fmt.Errorf("create document directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Chmod(docFileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
