package domain

import (
	"bytes"
	"strconv"
)

// ProjectID is a project's public identifier. The catalogue and clients
// may send it as a JSON number or string.
type ProjectID string

// UnmarshalJSON accepts both `3` and `"3"`.
func (id *ProjectID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*id = ProjectID(s)
		return nil
	}
	*id = ProjectID(data)
	return nil
}

// Project is a curriculum unit listed in the static project catalogue.
type Project struct {
	ID           ProjectID `json:"id"`
	DashedName   string    `json:"dashedName"`
	Title        string    `json:"title,omitempty"`
	Description  string    `json:"description,omitempty"`
	IsIntegrated bool      `json:"isIntegrated,omitempty"`
	IsPublic     bool      `json:"isPublic,omitempty"`
	// TestCommand is run for lessons that do not declare their own command.
	TestCommand string `json:"testCommand,omitempty"`
	// TestDir is relative to the workspace root; defaults to the dashed name.
	TestDir string `json:"testDir,omitempty"`
}

// SeedFile is one file a lesson writes into the workspace.
type SeedFile struct {
	Path     string
	Contents string
}

// Lesson is one numbered step of a project's curriculum.
type Lesson struct {
	Number      int
	Description string
	Tests       string
	Command     string
	Seeds       []SeedFile
}
