package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dkarpov/certmail/internal/dataset"
	"github.com/dkarpov/certmail/internal/designer"
	"github.com/dkarpov/certmail/internal/mailer"
	"github.com/dkarpov/certmail/internal/project"
	"github.com/dkarpov/certmail/internal/render"
)

// CreateProjectRequest is the request body for POST /projects
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// ProjectSummary is a summary of a project
type ProjectSummary struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Step      project.Step `json:"step"`
	Rows      int          `json:"rows"`
	Fields    int          `json:"fields"`
	Sending   bool         `json:"sending"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).String(),
	})
}

// handleCreateProject handles POST /api/v1/projects
func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return
	}

	p := s.projects.Create(req.Name)
	s.logger.Info("project created", "id", p.ID, "name", p.Name)
	s.sendJSON(w, http.StatusCreated, summarize(p))
}

// handleListProjects handles GET /api/v1/projects
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	all := s.projects.List()
	summaries := make([]ProjectSummary, len(all))
	for i, p := range all {
		summaries[i] = summarize(p)
	}
	s.sendJSON(w, http.StatusOK, summaries)
}

// handleGetProject handles GET /api/v1/projects/{id}
func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, p)
}

// handleDeleteProject handles DELETE /api/v1/projects/{id}
func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.projects.Delete(id); err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.logger.Info("project deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func summarize(p *project.Project) ProjectSummary {
	rows := 0
	if p.Dataset != nil {
		rows = p.Dataset.Len()
	}
	return ProjectSummary{
		ID:        p.ID,
		Name:      p.Name,
		Step:      p.Step,
		Rows:      rows,
		Fields:    len(p.Template.Fields),
		Sending:   p.Sending,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// sendStoreError maps domain errors to HTTP status codes
func (s *Server) sendStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, project.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Project not found")
	case errors.Is(err, project.ErrRunInProgress):
		s.sendError(w, http.StatusConflict, "A send run is already in progress")
	case errors.Is(err, project.ErrStepBackward):
		s.sendError(w, http.StatusConflict, "Cannot move a project to an earlier step")
	case errors.Is(err, designer.ErrFieldNotFound):
		s.sendError(w, http.StatusNotFound, "Field not found")
	case errors.Is(err, designer.ErrTemplateLocked):
		s.sendError(w, http.StatusConflict, "Template is locked")
	case errors.Is(err, designer.ErrNoBackground):
		s.sendError(w, http.StatusBadRequest, "Template has no background image")
	case errors.Is(err, designer.ErrNoFields):
		s.sendError(w, http.StatusBadRequest, "Template has no fields")
	case errors.Is(err, designer.ErrColumnRequired),
		errors.Is(err, designer.ErrContentRequired),
		errors.Is(err, designer.ErrInvalidCanvas):
		s.sendError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, render.ErrNoBackground), errors.Is(err, render.ErrBadBackground):
		s.sendError(w, http.StatusBadRequest, "Failed to generate certificate")
	case errors.Is(err, dataset.ErrNoEmailColumn):
		s.sendError(w, http.StatusBadRequest, "No email column found in the dataset")
	case errors.Is(err, mailer.ErrNoCredential):
		s.sendError(w, http.StatusUnauthorized, "No credential provided")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
	}
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
