package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/shsh-lessons/internal/domain"
	"github.com/go-chi/chi/v5"
)

// StateReader reads the persisted learner state.
type StateReader interface {
	GetState(ctx context.Context) domain.WorkspaceState
	GetProjectConfig(ctx context.Context, dashedName string) domain.ProjectConfig
}

// ProjectLister lists the catalogue.
type ProjectLister interface {
	Projects() ([]domain.Project, error)
}

// RunLister lists recorded test runs.
type RunLister interface {
	ListRuns(ctx context.Context, project string, limit int) ([]domain.TestRun, error)
}

// LessonsHandler serves state, catalogue and run history views.
type LessonsHandler struct {
	state    StateReader
	projects ProjectLister
	runs     RunLister
}

// NewLessonsHandler creates the read-only views handler.
func NewLessonsHandler(state StateReader, projects ProjectLister, runs RunLister) *LessonsHandler {
	return &LessonsHandler{state: state, projects: projects, runs: runs}
}

type stateResponse struct {
	State   domain.WorkspaceState `json:"state"`
	Project *domain.ProjectConfig `json:"project"`
}

// GetState returns the workspace state and, if a project is selected,
// its configuration.
func (h *LessonsHandler) GetState(w http.ResponseWriter, r *http.Request) {
	st := h.state.GetState(r.Context())
	resp := stateResponse{State: st}
	if st.HasProject() {
		cfg := h.state.GetProjectConfig(r.Context(), st.Project())
		resp.Project = &cfg
	}
	JSON(w, http.StatusOK, resp)
}

// ListProjects returns the project catalogue.
func (h *LessonsHandler) ListProjects(w http.ResponseWriter, _ *http.Request) {
	projects, err := h.projects.Projects()
	if err != nil {
		slog.Error("Failed to load project catalogue", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load projects")
		return
	}
	JSON(w, http.StatusOK, projects)
}

// ListRuns returns recent test runs, optionally filtered by ?project=.
func (h *LessonsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(r.Context(), r.URL.Query().Get("project"), limit)
	if err != nil {
		slog.Error("Failed to list test runs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	JSON(w, http.StatusOK, runs)
}

// Register mounts the views under r.
func (h *LessonsHandler) Register(r chi.Router) {
	r.Get("/state", h.GetState)
	r.Get("/projects", h.ListProjects)
	r.Get("/runs", h.ListRuns)
}
