package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkarpov/certmail/internal/config"
	"github.com/dkarpov/certmail/internal/mailer"
	"github.com/dkarpov/certmail/internal/project"
	"github.com/dkarpov/certmail/internal/quota"
	"github.com/dkarpov/certmail/internal/render"
	"github.com/dkarpov/certmail/internal/sender"
	"github.com/dkarpov/certmail/internal/sheets"
)

// recordingMailer captures messages instead of dispatching them
type recordingMailer struct {
	mu       sync.Mutex
	messages []*mailer.Message
}

func (m *recordingMailer) Send(ctx context.Context, credential string, msg *mailer.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return fmt.Sprintf("id-%d", len(m.messages)), nil
}

func (m *recordingMailer) sent() []*mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*mailer.Message(nil), m.messages...)
}

func newTestServer(t *testing.T) (*Server, *recordingMailer) {
	t.Helper()

	fonts, err := render.NewFontRegistry()
	if err != nil {
		t.Fatalf("failed to create font registry: %v", err)
	}
	compositor := render.NewCompositor(fonts)

	limiter, err := quota.NewLimiter(nil, quota.Config{Delay: time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	logger := slog.Default()
	rm := &recordingMailer{}
	snd := sender.New(compositor, rm, limiter, nil, logger, time.Second)

	cfg := config.Default()
	srv := NewServer(project.NewStore(), sheets.NewClient(time.Second), compositor, snd, cfg, nil, logger, "test")
	return srv, rm
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// testBackground returns a small white PNG as a data URI
func testBackground(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test background: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// setupProject walks a project through import and design, returning its ID
func setupProject(t *testing.T, srv *Server) string {
	t.Helper()

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "Workshop"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create project: status %d: %s", w.Code, w.Body)
	}
	p := decode[ProjectSummary](t, w)

	csv := "Name,Email\nAnn,ann@x.com\nBo,not-an-email\n"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "people.csv")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	fw.Write([]byte(csv))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+p.ID+"/dataset/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dataset upload: status %d: %s", rec.Code, rec.Body)
	}

	w = doJSON(t, srv, http.MethodPut, "/api/v1/projects/"+p.ID+"/background",
		SetBackgroundRequest{Image: testBackground(t)})
	if w.Code != http.StatusNoContent {
		t.Fatalf("set background: status %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+p.ID+"/fields",
		PlaceFieldRequest{Column: "Name", X: 100, Y: 200})
	if w.Code != http.StatusCreated {
		t.Fatalf("place field: status %d: %s", w.Code, w.Body)
	}

	return p.ID
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestProjectLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "A"})
	p := decode[ProjectSummary](t, w)
	if p.Step != project.StepImport {
		t.Errorf("step = %s, want import", p.Step)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/v1/projects", nil)
	if got := decode[[]ProjectSummary](t, w); len(got) != 1 {
		t.Errorf("list length = %d, want 1", len(got))
	}

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/projects/"+p.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/v1/projects/"+p.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects", CreateProjectRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestFieldEditing(t *testing.T) {
	srv, _ := newTestServer(t)
	id := setupProject(t, srv)

	// A second field, then move and restyle it.
	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/fields",
		PlaceFieldRequest{Content: "Certificate of Completion", X: 50, Y: 40})
	if w.Code != http.StatusCreated {
		t.Fatalf("place literal field: status %d: %s", w.Code, w.Body)
	}
	placed := decode[PlaceFieldResponse](t, w)

	x, size, colorHex := 300.0, 24.0, "#ff0000"
	w = doJSON(t, srv, http.MethodPatch, "/api/v1/projects/"+id+"/fields/"+placed.ID,
		UpdateFieldRequest{X: &x, FontSize: &size, Color: &colorHex})
	if w.Code != http.StatusOK {
		t.Fatalf("update field: status %d: %s", w.Code, w.Body)
	}

	p, _ := srv.projects.Get(id)
	f := p.Template.FieldByID(placed.ID)
	if f.X != 300 || f.Y != 40 {
		t.Errorf("position = (%v,%v), want (300,40)", f.X, f.Y)
	}
	if f.FontSize != 24 || f.Color != "#ff0000" {
		t.Errorf("style = %v/%v", f.FontSize, f.Color)
	}

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/projects/"+id+"/fields/"+placed.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete field status = %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodDelete, "/api/v1/projects/"+id+"/fields/"+placed.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete missing field status = %d", w.Code)
	}
}

func TestFieldClampedToCanvas(t *testing.T) {
	srv, _ := newTestServer(t)
	id := setupProject(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/fields",
		PlaceFieldRequest{Column: "Name", X: 5000, Y: -50})
	placed := decode[PlaceFieldResponse](t, w)

	if placed.Field.X != 600 || placed.Field.Y != 0 {
		t.Errorf("clamped position = (%v,%v), want (600,0)", placed.Field.X, placed.Field.Y)
	}
}

func TestStepFreezeValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "A"})
	p := decode[ProjectSummary](t, w)

	// No background, no fields: the template cannot freeze.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+p.ID+"/step",
		AdvanceStepRequest{Step: project.StepEmail})
	if w.Code != http.StatusBadRequest {
		t.Errorf("freeze without background status = %d: %s", w.Code, w.Body)
	}
}

func TestTemplateLockedAfterDesign(t *testing.T) {
	srv, _ := newTestServer(t)
	id := setupProject(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/step",
		AdvanceStepRequest{Step: project.StepEmail})
	if w.Code != http.StatusOK {
		t.Fatalf("advance step: status %d: %s", w.Code, w.Body)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/fields",
		PlaceFieldRequest{Column: "Name", X: 10, Y: 10})
	if w.Code != http.StatusConflict {
		t.Errorf("edit after freeze status = %d, want 409", w.Code)
	}

	// Stepping backward is refused.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/step",
		AdvanceStepRequest{Step: project.StepDesign})
	if w.Code != http.StatusConflict {
		t.Errorf("step backward status = %d, want 409", w.Code)
	}
}

func TestSetEmailUnknownPlaceholders(t *testing.T) {
	srv, _ := newTestServer(t)
	id := setupProject(t, srv)

	w := doJSON(t, srv, http.MethodPut, "/api/v1/projects/"+id+"/email",
		SetEmailRequest{Subject: "Hi {Name}", Body: "You scored {Score}"})
	if w.Code != http.StatusOK {
		t.Fatalf("set email: status %d: %s", w.Code, w.Body)
	}

	// {Name} matches a dataset column; {Score} does not and is flagged.
	resp := decode[SetEmailResponse](t, w)
	if len(resp.UnknownPlaceholders) != 1 || resp.UnknownPlaceholders[0] != "Score" {
		t.Errorf("unknown placeholders = %v, want [Score]", resp.UnknownPlaceholders)
	}
}

func TestPreview(t *testing.T) {
	srv, _ := newTestServer(t)
	id := setupProject(t, srv)

	doJSON(t, srv, http.MethodPut, "/api/v1/projects/"+id+"/email",
		SetEmailRequest{Subject: "Hi {Name}", Body: "Congrats {Name}"})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/preview", PreviewRequest{Row: 0})
	if w.Code != http.StatusOK {
		t.Fatalf("preview: status %d: %s", w.Code, w.Body)
	}
	resp := decode[PreviewResponse](t, w)

	if !strings.HasPrefix(resp.Image, "data:image/png;base64,") {
		t.Errorf("image is not a PNG data URI: %.40s", resp.Image)
	}
	if resp.Subject != "Hi Ann" || resp.Body != "Congrats Ann" {
		t.Errorf("email = %q / %q", resp.Subject, resp.Body)
	}
	if resp.Email != "ann@x.com" {
		t.Errorf("email address = %q", resp.Email)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/preview", PreviewRequest{Row: 9})
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-range preview status = %d", w.Code)
	}
}

func TestSendRun(t *testing.T) {
	srv, rm := newTestServer(t)
	id := setupProject(t, srv)

	doJSON(t, srv, http.MethodPut, "/api/v1/projects/"+id+"/email",
		SetEmailRequest{Subject: "Hi {Name}", Body: "Congrats {Name}"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+id+"/send", nil)
	req.Header.Set("Authorization", "Bearer google-token")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("send: status %d: %s", w.Code, w.Body)
	}

	// The run executes in the background; poll the report.
	deadline := time.Now().Add(5 * time.Second)
	var report ReportResponse
	for {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/projects/"+id+"/report", nil)
		report = decode[ReportResponse](t, rec)
		if !report.Sending && report.Report != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("send run did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if report.Report.Sent != 1 || report.Report.Failed != 1 {
		t.Errorf("report = %d sent / %d failed, want 1/1", report.Report.Sent, report.Report.Failed)
	}
	if report.StatusLine != "Complete! Sent 1 certificates, 0 failed." &&
		!strings.HasPrefix(report.StatusLine, "Complete!") {
		t.Errorf("status line = %q", report.StatusLine)
	}

	msgs := rm.sent()
	if len(msgs) != 1 {
		t.Fatalf("sent messages = %d, want 1", len(msgs))
	}
	if msgs[0].To != "ann@x.com" || msgs[0].Subject != "Hi Ann" {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestSendWithoutCredential(t *testing.T) {
	srv, rm := newTestServer(t)
	id := setupProject(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects/"+id+"/send", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if len(rm.sent()) != 0 {
		t.Error("messages were sent without a credential")
	}
}

func TestSendWithoutDataset(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "A"})
	p := decode[ProjectSummary](t, w)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+p.ID+"/send", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSendNoEmailColumn(t *testing.T) {
	srv, rm := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/projects", CreateProjectRequest{Name: "A"})
	p := decode[ProjectSummary](t, w)

	csv := "Name,Score\nAnn,95\n"
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "scores.csv")
	fw.Write([]byte(csv))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+p.ID+"/dataset/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("dataset upload: status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/projects/"+p.ID+"/send", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body)
	}
	if len(rm.sent()) != 0 {
		t.Error("messages were sent despite missing email column")
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.config.API.APIKey = "secret"

	w := doJSON(t, srv, http.MethodGet, "/api/v1/projects", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status with key = %d, want 200", rec.Code)
	}

	// Health stays open.
	w = doJSON(t, srv, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestListSheets(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer google-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"files":[{"id":"sheet1","name":"Attendees","modifiedTime":"2026-08-01T00:00:00Z"}]}`)
	}))
	defer provider.Close()

	srv, _ := newTestServer(t)
	srv.sheets = sheets.NewClientWithBaseURLs(provider.URL, provider.URL, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sheets", nil)
	req.Header.Set("Authorization", "Bearer google-token")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}

	got := decode[[]sheets.Spreadsheet](t, rec)
	if len(got) != 1 || got[0].Name != "Attendees" {
		t.Errorf("sheets = %+v", got)
	}

	// Missing credential is refused up front.
	rec = doJSON(t, srv, http.MethodGet, "/api/v1/sheets", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without credential = %d, want 401", rec.Code)
	}
}
