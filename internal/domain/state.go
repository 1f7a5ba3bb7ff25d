// Package domain contains core domain types for the lesson tooling server.
package domain

// DefaultLocale is the display language used when the workspace state
// document is missing or does not name one.
const DefaultLocale = "english"

// WorkspaceState is the process-wide learner state.
type WorkspaceState struct {
	CurrentProject *string `json:"currentProject"`
	Locale         string  `json:"locale"`
}

// DefaultWorkspaceState returns the state used when nothing is persisted.
func DefaultWorkspaceState() WorkspaceState {
	return WorkspaceState{Locale: DefaultLocale}
}

// HasProject returns true if a project is currently selected.
func (s WorkspaceState) HasProject() bool {
	return s.CurrentProject != nil && *s.CurrentProject != ""
}

// Project returns the selected project's dashed name, or "" if none.
func (s WorkspaceState) Project() string {
	if s.CurrentProject == nil {
		return ""
	}
	return *s.CurrentProject
}

// ProjectConfig holds the per-project learner configuration.
type ProjectConfig struct {
	DashedName              string `json:"dashedName"`
	CurrentLesson           int    `json:"currentLesson"`
	TestPollingRate         int    `json:"testPollingRate"`
	RunTestsOnWatch         bool   `json:"runTestsOnWatch"`
	LastKnownLessonWithHash int    `json:"lastKnownLessonWithHash"`
	SeedEveryLesson         bool   `json:"seedEveryLesson"`
	UseGitBuildOnProduction bool   `json:"useGitBuildOnProduction"`
}

// DefaultTestPollingRate is the debounce window in milliseconds applied
// when a project does not configure one.
const DefaultTestPollingRate = 333

// DefaultProjectConfig returns the configuration of a project that has
// never been written.
func DefaultProjectConfig(dashedName string) ProjectConfig {
	return ProjectConfig{
		DashedName:              dashedName,
		CurrentLesson:           1,
		TestPollingRate:         DefaultTestPollingRate,
		RunTestsOnWatch:         false,
		LastKnownLessonWithHash: 1,
		SeedEveryLesson:         false,
		UseGitBuildOnProduction: false,
	}
}
