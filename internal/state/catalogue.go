package state

import (
	"errors"
	"fmt"
	"os"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/bytedance/sonic"
)

// ErrProjectNotFound is returned when a catalogue lookup misses.
var ErrProjectNotFound = errors.New("project not found")

// Catalogue is the static, read-only list of known projects.
type Catalogue struct {
	path string
}

// NewCatalogue creates a catalogue reader for the given document path.
func NewCatalogue(path string) *Catalogue {
	return &Catalogue{path: path}
}

// Projects loads the catalogue in document order. The file is re-read on
// every call so edits are picked up without a restart.
func (c *Catalogue) Projects() ([]domain.Project, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("read catalogue: %w", err)
	}
	var projects []domain.Project
	if err := sonic.ConfigStd.Unmarshal(data, &projects); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	return projects, nil
}

// FindByID resolves a project by its public identifier.
func (c *Catalogue) FindByID(id domain.ProjectID) (*domain.Project, error) {
	projects, err := c.Projects()
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].ID == id {
			return &projects[i], nil
		}
	}
	return nil, fmt.Errorf("%w: id %q", ErrProjectNotFound, id)
}

// FindByDashedName resolves a project by its directory slug.
func (c *Catalogue) FindByDashedName(name string) (*domain.Project, error) {
	projects, err := c.Projects()
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].DashedName == name {
			return &projects[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, name)
}

// DashedNames returns the slug of every catalogued project.
func (c *Catalogue) DashedNames() ([]string, error) {
	projects, err := c.Projects()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.DashedName)
	}
	return names, nil
}
