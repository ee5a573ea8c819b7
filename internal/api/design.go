package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dkarpov/certmail/internal/designer"
	"github.com/dkarpov/certmail/internal/project"
	"github.com/dkarpov/certmail/internal/template"
)

// SetBackgroundRequest is the request body for PUT /projects/{id}/background
type SetBackgroundRequest struct {
	Image string `json:"image"` // data URI
}

// PlaceFieldRequest is the request body for POST /projects/{id}/fields
type PlaceFieldRequest struct {
	Column       string  `json:"column,omitempty"`  // Bound field: dataset column
	Content      string  `json:"content,omitempty"` // Literal field: fixed text
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	CanvasWidth  float64 `json:"canvas_width,omitempty"`
	CanvasHeight float64 `json:"canvas_height,omitempty"`
}

// PlaceFieldResponse is the response for POST /projects/{id}/fields
type PlaceFieldResponse struct {
	ID    string         `json:"id"`
	Field template.Field `json:"field"`
}

// UpdateFieldRequest is the request body for PATCH
// /projects/{id}/fields/{fieldID}. Nil members are left unchanged.
type UpdateFieldRequest struct {
	X          *float64 `json:"x,omitempty"`
	Y          *float64 `json:"y,omitempty"`
	FontSize   *float64 `json:"font_size,omitempty"`
	FontFamily *string  `json:"font_family,omitempty"`
	Color      *string  `json:"color,omitempty"`
}

// SetEmailRequest is the request body for PUT /projects/{id}/email
type SetEmailRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// SetEmailResponse reports placeholders referenced by the template that
// do not match any dataset column, so the client can warn before a run
// sends them out verbatim.
type SetEmailResponse struct {
	UnknownPlaceholders []string `json:"unknown_placeholders,omitempty"`
}

// AdvanceStepRequest is the request body for POST /projects/{id}/step
type AdvanceStepRequest struct {
	Step project.Step `json:"step"`
}

// editTemplate runs one designer operation against the project's
// template under the store lock. Edits are refused once the project
// has advanced past the design step.
func (s *Server) editTemplate(id string, canvasW, canvasH float64, op func(*designer.Designer) error) error {
	return s.projects.Update(id, func(p *project.Project) error {
		if p.Step.After(project.StepDesign) {
			return designer.ErrTemplateLocked
		}
		w, h := canvasW, canvasH
		if w <= 0 || h <= 0 {
			w, h = p.Template.DesignSize()
		}
		d, err := designer.Resume(p.Template, w, h)
		if err != nil {
			return err
		}
		if err := op(d); err != nil {
			return err
		}
		p.Template = d.Template()
		return nil
	})
}

// handleSetBackground handles PUT /api/v1/projects/{id}/background
func (s *Server) handleSetBackground(w http.ResponseWriter, r *http.Request) {
	var req SetBackgroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !strings.HasPrefix(req.Image, "data:image/") {
		s.sendError(w, http.StatusBadRequest, "image must be an image data URI")
		return
	}

	id := chi.URLParam(r, "id")
	err := s.editTemplate(id, 0, 0, func(d *designer.Designer) error {
		return d.SetBackground(req.Image)
	})
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePlaceField handles POST /api/v1/projects/{id}/fields
func (s *Server) handlePlaceField(w http.ResponseWriter, r *http.Request) {
	var req PlaceFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Column == "" && req.Content == "" {
		s.sendError(w, http.StatusBadRequest, "column or content is required")
		return
	}

	id := chi.URLParam(r, "id")
	var fieldID string
	err := s.editTemplate(id, req.CanvasWidth, req.CanvasHeight, func(d *designer.Designer) error {
		var err error
		if req.Column != "" {
			fieldID, err = d.PlaceBoundField(req.Column, req.X, req.Y)
		} else {
			fieldID, err = d.PlaceTextField(req.Content, req.X, req.Y)
		}
		return err
	})
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	p, err := s.projects.Get(id)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	f := p.Template.FieldByID(fieldID)
	if f == nil {
		s.sendStoreError(w, designer.ErrFieldNotFound)
		return
	}

	s.logger.Info("field placed", "project", id, "field", fieldID, "column", req.Column)
	s.sendJSON(w, http.StatusCreated, PlaceFieldResponse{ID: fieldID, Field: *f})
}

// handleUpdateField handles PATCH /api/v1/projects/{id}/fields/{fieldID}
func (s *Server) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var req UpdateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := chi.URLParam(r, "id")
	fieldID := chi.URLParam(r, "fieldID")

	err := s.editTemplate(id, 0, 0, func(d *designer.Designer) error {
		if req.X != nil || req.Y != nil {
			// A drag always carries both coordinates; a missing one
			// means "keep the current value".
			tmpl := d.Template()
			f := tmpl.FieldByID(fieldID)
			if f == nil {
				return designer.ErrFieldNotFound
			}
			x, y := f.X, f.Y
			if req.X != nil {
				x = *req.X
			}
			if req.Y != nil {
				y = *req.Y
			}
			if err := d.MoveField(fieldID, x, y); err != nil {
				return err
			}
		}
		return d.StyleField(fieldID, designer.Style{
			FontSize:   req.FontSize,
			FontFamily: req.FontFamily,
			Color:      req.Color,
		})
	})
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	p, err := s.projects.Get(id)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, p.Template.FieldByID(fieldID))
}

// handleDeleteField handles DELETE /api/v1/projects/{id}/fields/{fieldID}
func (s *Server) handleDeleteField(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fieldID := chi.URLParam(r, "fieldID")

	err := s.editTemplate(id, 0, 0, func(d *designer.Designer) error {
		return d.DeleteField(fieldID)
	})
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetEmail handles PUT /api/v1/projects/{id}/email
func (s *Server) handleSetEmail(w http.ResponseWriter, r *http.Request) {
	var req SetEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var resp SetEmailResponse
	err := s.projects.Update(chi.URLParam(r, "id"), func(p *project.Project) error {
		p.Email = template.Email{Subject: req.Subject, Body: req.Body}

		columns := make(map[string]bool)
		if p.Dataset != nil {
			for _, col := range p.Dataset.Columns {
				columns[col] = true
			}
		}
		for _, name := range template.Placeholders(req.Subject + "\n" + req.Body) {
			if !columns[name] {
				resp.UnknownPlaceholders = append(resp.UnknownPlaceholders, name)
			}
		}
		return nil
	})
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleAdvanceStep handles POST /api/v1/projects/{id}/step. Advancing
// past design freezes the template; the designer validates it first.
func (s *Server) handleAdvanceStep(w http.ResponseWriter, r *http.Request) {
	var req AdvanceStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !req.Step.Valid() {
		s.sendError(w, http.StatusBadRequest, "unknown step")
		return
	}

	id := chi.URLParam(r, "id")
	err := s.projects.Update(id, func(p *project.Project) error {
		if p.Step.After(req.Step) {
			return project.ErrStepBackward
		}
		if req.Step.After(project.StepDesign) && p.Step == project.StepDesign {
			w, h := p.Template.DesignSize()
			d, err := designer.Resume(p.Template, w, h)
			if err != nil {
				return err
			}
			frozen, err := d.Freeze()
			if err != nil {
				return err
			}
			p.Template = frozen
		}
		p.Step = req.Step
		return nil
	})
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	p, err := s.projects.Get(id)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, summarize(p))
}
