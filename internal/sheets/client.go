// Package sheets is a thin client for the spreadsheet provider: file
// listing and rectangular range reads. The bearer credential is passed
// through untouched.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkarpov/certmail/internal/dataset"
	"github.com/dkarpov/certmail/internal/mailer"
)

const (
	defaultDriveBaseURL  = "https://www.googleapis.com"
	defaultSheetsBaseURL = "https://sheets.googleapis.com"

	// DefaultRange covers the rectangle the importer reads when the
	// caller does not narrow it.
	DefaultRange = "A1:Z1000"
)

// Spreadsheet describes one listable spreadsheet document.
type Spreadsheet struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ModifiedTime string `json:"modifiedTime"`
}

// Client calls the spreadsheet provider's REST endpoints.
type Client struct {
	driveBaseURL  string
	sheetsBaseURL string
	httpClient    *http.Client
}

// NewClient creates a spreadsheet client.
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		driveBaseURL:  defaultDriveBaseURL,
		sheetsBaseURL: defaultSheetsBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithBaseURLs creates a client against non-default endpoints.
// Used by tests.
func NewClientWithBaseURLs(driveBaseURL, sheetsBaseURL string, timeout time.Duration) *Client {
	c := NewClient(timeout)
	c.driveBaseURL = strings.TrimSuffix(driveBaseURL, "/")
	c.sheetsBaseURL = strings.TrimSuffix(sheetsBaseURL, "/")
	return c
}

type listResponse struct {
	Files []Spreadsheet `json:"files"`
}

type valuesResponse struct {
	Values [][]string `json:"values"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// List returns the spreadsheets visible to the credential's account.
func (c *Client) List(ctx context.Context, credential string) ([]Spreadsheet, error) {
	if credential == "" {
		return nil, mailer.ErrNoCredential
	}

	q := url.Values{}
	q.Set("q", "mimeType='application/vnd.google-apps.spreadsheet'")
	q.Set("fields", "files(id,name,modifiedTime)")

	var resp listResponse
	if err := c.get(ctx, credential, c.driveBaseURL+"/drive/v3/files?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("list spreadsheets: %w", err)
	}
	return resp.Files, nil
}

// Read fetches a rectangular range from a spreadsheet and builds a
// dataset from it: first row headers, the rest data.
func (c *Client) Read(ctx context.Context, credential, spreadsheetID, rangeSpec string) (*dataset.Dataset, error) {
	if credential == "" {
		return nil, mailer.ErrNoCredential
	}
	if rangeSpec == "" {
		rangeSpec = DefaultRange
	}

	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s",
		c.sheetsBaseURL, url.PathEscape(spreadsheetID), url.PathEscape(rangeSpec))

	var resp valuesResponse
	if err := c.get(ctx, credential, u, &resp); err != nil {
		return nil, fmt.Errorf("read range %s: %w", rangeSpec, err)
	}

	return dataset.New(spreadsheetID, resp.Values), nil
}

func (c *Client) get(ctx context.Context, credential, u string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp apiErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error.Message != "" {
			return fmt.Errorf("provider error: %s", errResp.Error.Message)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
