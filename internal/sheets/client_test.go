package sheets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkarpov/certmail/internal/mailer"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithBaseURLs(srv.URL, srv.URL, 5*time.Second), srv
}

func TestList(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drive/v3/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		if q := r.URL.Query().Get("q"); !strings.Contains(q, "spreadsheet") {
			t.Errorf("missing mime filter, q = %q", q)
		}
		w.Write([]byte(`{"files":[{"id":"s1","name":"Attendees","modifiedTime":"2025-06-01T10:00:00Z"}]}`))
	})

	files, err := c.List(context.Background(), "tok")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(files) != 1 || files[0].ID != "s1" || files[0].Name != "Attendees" {
		t.Errorf("unexpected files: %+v", files)
	}
}

func TestListNoCredential(t *testing.T) {
	c := NewClient(time.Second)
	if _, err := c.List(context.Background(), ""); !errors.Is(err, mailer.ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
}

func TestRead(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v4/spreadsheets/s1/values/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"values":[["Name","Email"],["Ann","ann@x.com"],["Bo"]]}`))
	})

	d, err := c.Read(context.Background(), "tok", "s1", "A1:B3")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if len(d.Columns) != 2 || d.Columns[1] != "Email" {
		t.Errorf("unexpected columns: %v", d.Columns)
	}
	if d.Len() != 2 {
		t.Errorf("expected 2 data rows, got %d", d.Len())
	}
	// Short row pads with an empty string.
	if got := d.RowMap(1)["Email"]; got != "" {
		t.Errorf("short row Email = %q, want empty", got)
	}
}

func TestReadDefaultRange(t *testing.T) {
	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"values":[]}`))
	})

	if _, err := c.Read(context.Background(), "tok", "s1", ""); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !strings.HasSuffix(gotPath, DefaultRange) {
		t.Errorf("expected default range in path, got %s", gotPath)
	}
}

func TestReadProviderError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission"}}`))
	})

	_, err := c.Read(context.Background(), "tok", "s1", "A1:B2")
	if err == nil || !strings.Contains(err.Error(), "does not have permission") {
		t.Errorf("expected provider message in error, got %v", err)
	}
}
