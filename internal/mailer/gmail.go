package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultGmailBaseURL = "https://gmail.googleapis.com"

// Multipart boundary marker of the wire format. The provider-side
// contract is the whole RFC822 message URL-safe base64 encoded with
// padding stripped, so the exact byte layout matters.
const mimeBoundary = "boundary123"

// GmailMailer sends messages through the Gmail REST API using the
// session's bearer credential.
type GmailMailer struct {
	baseURL    string
	httpClient *http.Client
}

// NewGmailMailer creates a Gmail API mailer.
func NewGmailMailer(timeout time.Duration) *GmailMailer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &GmailMailer{
		baseURL: defaultGmailBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewGmailMailerWithBaseURL creates a mailer against a non-default
// endpoint. Used by tests.
func NewGmailMailerWithBaseURL(baseURL string, timeout time.Duration) *GmailMailer {
	m := NewGmailMailer(timeout)
	m.baseURL = strings.TrimSuffix(baseURL, "/")
	return m
}

type gmailSendRequest struct {
	Raw string `json:"raw"`
}

type gmailSendResponse struct {
	ID string `json:"id"`
}

type gmailErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send builds the raw MIME message and posts it to
// users/me/messages/send. Returns the provider message id.
func (m *GmailMailer) Send(ctx context.Context, credential string, msg *Message) (string, error) {
	if credential == "" {
		return "", ErrNoCredential
	}

	raw := EncodeRaw(msg)

	body, err := json.Marshal(gmailSendRequest{Raw: raw})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/gmail/v1/users/me/messages/send", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp gmailErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&errResp); decodeErr == nil && errResp.Error.Message != "" {
			return "", &TransportError{Status: resp.StatusCode, Message: errResp.Error.Message}
		}
		return "", &TransportError{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	var sendResp gmailSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sendResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	return sendResp.ID, nil
}

// EncodeRaw builds the multipart MIME message for one recipient and
// returns it URL-safe base64 encoded without padding, ready for the
// "raw" field of the send call.
func EncodeRaw(msg *Message) string {
	return base64.RawURLEncoding.EncodeToString(BuildMIME(msg))
}

// BuildMIME assembles the RFC822 message: one text/plain part and, when
// present, one base64-encoded binary attachment part. Lines are joined
// with "\n" to match the provider-side contract byte for byte.
func BuildMIME(msg *Message) []byte {
	if msg.Attachment == nil {
		lines := []string{
			`Content-Type: text/plain; charset="UTF-8"`,
			"MIME-Version: 1.0",
			"To: " + msg.To,
			"Subject: " + msg.Subject,
			"",
			msg.Body,
		}
		return []byte(strings.Join(lines, "\n"))
	}

	att := msg.Attachment
	lines := []string{
		fmt.Sprintf(`Content-Type: multipart/mixed; boundary="%s"`, mimeBoundary),
		"MIME-Version: 1.0",
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"",
		"--" + mimeBoundary,
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		msg.Body,
		"",
		"--" + mimeBoundary,
		"Content-Type: " + att.MIMEType,
		fmt.Sprintf(`Content-Disposition: attachment; filename="%s"`, att.Filename),
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString(att.Data),
		"--" + mimeBoundary + "--",
	}
	return []byte(strings.Join(lines, "\n"))
}
