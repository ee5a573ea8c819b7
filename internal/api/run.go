package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkarpov/certmail/internal/config"
	"github.com/dkarpov/certmail/internal/dataset"
	"github.com/dkarpov/certmail/internal/mailer"
	"github.com/dkarpov/certmail/internal/project"
	"github.com/dkarpov/certmail/internal/sender"
	"github.com/dkarpov/certmail/internal/template"
)

// ImportSheetRequest is the request body for POST /projects/{id}/dataset/sheet
type ImportSheetRequest struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	Range         string `json:"range,omitempty"`
}

// DatasetResponse describes an imported dataset
type DatasetResponse struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    int      `json:"rows"`
}

// PreviewRequest is the request body for POST /projects/{id}/preview
type PreviewRequest struct {
	Row int `json:"row"`
}

// PreviewResponse is the rendered certificate and email for one row
type PreviewResponse struct {
	Image   string `json:"image"` // PNG data URI
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Email   string `json:"email,omitempty"`
}

// SendResponse is the response for POST /projects/{id}/send
type SendResponse struct {
	Status string `json:"status"`
}

// ReportResponse is the response for GET /projects/{id}/report
type ReportResponse struct {
	Sending    bool           `json:"sending"`
	StatusLine string         `json:"status_line,omitempty"`
	Report     *sender.Report `json:"report,omitempty"`
}

// handleListSheets handles GET /api/v1/sheets
func (s *Server) handleListSheets(w http.ResponseWriter, r *http.Request) {
	credential := credentialFrom(r)
	spreadsheets, err := s.sheets.List(r.Context(), credential)
	if err != nil {
		s.sendSheetsError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, spreadsheets)
}

// handleImportSheet handles POST /api/v1/projects/{id}/dataset/sheet
func (s *Server) handleImportSheet(w http.ResponseWriter, r *http.Request) {
	var req ImportSheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SpreadsheetID == "" {
		s.sendError(w, http.StatusBadRequest, "spreadsheet_id is required")
		return
	}

	d, err := s.sheets.Read(r.Context(), credentialFrom(r), req.SpreadsheetID, req.Range)
	if err != nil {
		s.sendSheetsError(w, err)
		return
	}

	s.attachDataset(w, chi.URLParam(r, "id"), d)
}

// handleUploadDataset handles POST /api/v1/projects/{id}/dataset/upload.
// Accepts a multipart form with a CSV or XLSX file under "file".
func (s *Server) handleUploadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.API.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	d, err := dataset.FromFile(file, header.Filename)
	if err != nil {
		s.logger.Warn("dataset upload rejected", "filename", header.Filename, "error", err)
		s.sendError(w, http.StatusBadRequest, "Failed to parse dataset file")
		return
	}

	s.attachDataset(w, chi.URLParam(r, "id"), d)
}

// attachDataset stores the dataset on the project and moves it to the
// design step
func (s *Server) attachDataset(w http.ResponseWriter, id string, d *dataset.Dataset) {
	err := s.projects.Update(id, func(p *project.Project) error {
		if p.Step.After(project.StepDesign) {
			return project.ErrStepBackward
		}
		p.Dataset = d
		p.Step = project.StepDesign
		return nil
	})
	if err != nil {
		s.sendStoreError(w, err)
		return
	}

	s.logger.Info("dataset imported", "project", id, "name", d.Name, "rows", d.Len())
	s.sendJSON(w, http.StatusOK, DatasetResponse{
		Name:    d.Name,
		Columns: d.Columns,
		Rows:    d.Len(),
	})
}

// handlePreview handles POST /api/v1/projects/{id}/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	p, err := s.projects.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if p.Dataset == nil || req.Row < 0 || req.Row >= p.Dataset.Len() {
		s.sendError(w, http.StatusBadRequest, "row out of range")
		return
	}

	row := p.Dataset.RowMap(req.Row)
	image, err := s.compositor.Render(p.Template, row)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	email := template.RenderEmail(p.Email, row)

	resp := PreviewResponse{
		Image:   image,
		Subject: email.Subject,
		Body:    email.Body,
	}
	if col, err := p.Dataset.EmailColumn(); err == nil {
		resp.Email = p.Dataset.Cell(req.Row, col)
	}
	s.sendJSON(w, http.StatusOK, resp)
}

// handleSend handles POST /api/v1/projects/{id}/send. The run executes
// in the background; progress is polled via GET /report.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, err := s.projects.Get(id)
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	if p.Dataset == nil {
		s.sendError(w, http.StatusBadRequest, "No dataset imported")
		return
	}

	credential, account := s.jobIdentity(r)
	if credential == "" {
		s.sendStoreError(w, mailer.ErrNoCredential)
		return
	}
	// Fail before starting the run so the caller gets a synchronous
	// error for a dataset that can never be sent.
	if _, err := p.Dataset.EmailColumn(); err != nil {
		s.sendStoreError(w, err)
		return
	}

	if err := s.projects.StartRun(id); err != nil {
		s.sendStoreError(w, err)
		return
	}

	job := &sender.Job{
		Credential: credential,
		Account:    account,
		Dataset:    p.Dataset,
		Template:   p.Template,
		Email:      p.Email,
		Status:     func(line string) { s.projects.SetStatusLine(id, line) },
	}

	go func() {
		report, err := s.sender.Run(context.Background(), job)
		if err != nil {
			s.logger.Error("send run failed", "project", id, "error", err)
		}
		s.projects.FinishRun(id, report)
	}()

	s.logger.Info("send run started", "project", id, "rows", p.Dataset.Len())
	s.sendJSON(w, http.StatusAccepted, SendResponse{Status: "started"})
}

// handleReport handles GET /api/v1/projects/{id}/report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	p, err := s.projects.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.sendStoreError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, ReportResponse{
		Sending:    p.Sending,
		StatusLine: p.StatusLine,
		Report:     p.Report,
	})
}

// jobIdentity resolves the credential and quota account for a send
// run. With the gmail backend both come from the caller's bearer
// token; with smtp the configured account sends on the caller's
// behalf.
func (s *Server) jobIdentity(r *http.Request) (credential, account string) {
	if s.config.Mail.Backend == config.BackendSMTP {
		return s.config.Mail.SMTP.Username, s.config.Mail.SMTP.From
	}
	return credentialFrom(r), ""
}

// sendSheetsError maps spreadsheet service errors to HTTP responses
func (s *Server) sendSheetsError(w http.ResponseWriter, err error) {
	if errors.Is(err, mailer.ErrNoCredential) {
		s.sendError(w, http.StatusUnauthorized, "No credential provided")
		return
	}
	s.logger.Error("spreadsheet request failed", "error", err)
	s.sendError(w, http.StatusBadGateway, "Spreadsheet provider request failed")
}
