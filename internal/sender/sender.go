// Package sender drives one bulk send run: render a certificate and a
// personalized email per dataset row, dispatch them sequentially, and
// accumulate per-row outcomes.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dkarpov/certmail/internal/dataset"
	"github.com/dkarpov/certmail/internal/mailer"
	"github.com/dkarpov/certmail/internal/metrics"
	"github.com/dkarpov/certmail/internal/quota"
	"github.com/dkarpov/certmail/internal/template"
)

// Status classifies one per-recipient outcome.
type Status string

const (
	StatusSent           Status = "sent"
	StatusInvalidAddress Status = "invalid_address"
	StatusEmptySubject   Status = "empty_subject"
	StatusEmptyBody      Status = "empty_body"
	StatusRenderFailed   Status = "render_failed"
	StatusTransportError Status = "transport_error"
)

// AttachmentFilename names the certificate attachment on every message.
const AttachmentFilename = "certificate.png"

// DefaultSendTimeout bounds one mail call so a hung request cannot
// stall the remaining batch.
const DefaultSendTimeout = 30 * time.Second

// Outcome is the result for a single dataset row, in row order.
type Outcome struct {
	Row       int    `json:"row"`
	Email     string `json:"email"`
	Status    Status `json:"status"`
	Error     string `json:"error,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// Failure pairs a recipient with its error for the itemized report.
type Failure struct {
	Email string `json:"email"`
	Error string `json:"error"`
}

// Report is the terminal state of a send run. There is no retry and no
// resume; re-running the batch sends to everyone again, previously
// successful recipients included.
type Report struct {
	Total      int       `json:"total"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Successful []string  `json:"successful"`
	Failures   []Failure `json:"failures"`
	Outcomes   []Outcome `json:"outcomes"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Renderer produces one certificate image per (template, row) pair.
type Renderer interface {
	RenderPNG(tmpl template.Template, row map[string]string) ([]byte, error)
}

// StatusFunc receives human-readable status-line updates during a run.
type StatusFunc func(string)

// Job is everything one send run needs. Credential is the opaque
// bearer token of the active session; Account labels the quota counter
// (typically the sender address).
type Job struct {
	Credential string
	Account    string
	Dataset    *dataset.Dataset
	Template   template.Template
	Email      template.Email
	Status     StatusFunc
}

// Sender executes send runs. Rows are processed strictly sequentially:
// one row fully completes (render, substitute, send, delay) before the
// next begins, which both serializes surface use and throttles
// outbound traffic.
type Sender struct {
	renderer Renderer
	mailer   mailer.Mailer
	limiter  *quota.Limiter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration
}

// New creates a sender. metrics may be nil.
func New(renderer Renderer, m mailer.Mailer, limiter *quota.Limiter, mx *metrics.Metrics, logger *slog.Logger, timeout time.Duration) *Sender {
	if timeout == 0 {
		timeout = DefaultSendTimeout
	}
	return &Sender{
		renderer: renderer,
		mailer:   m,
		limiter:  limiter,
		metrics:  mx,
		logger:   logger.With("component", "sender"),
		timeout:  timeout,
	}
}

// Run processes every dataset row in order. Preconditions (credential
// present, an email column in the dataset) fail fast before any row is
// touched; per-row errors are recorded and never stop the batch. On
// context cancellation the partial report is returned alongside the
// context error.
func (s *Sender) Run(ctx context.Context, job *Job) (*Report, error) {
	if job.Credential == "" {
		return nil, mailer.ErrNoCredential
	}

	emailCol, err := job.Dataset.EmailColumn()
	if err != nil {
		return nil, err
	}

	account := job.Account
	if account == "" {
		account = "default"
	}

	report := &Report{
		Total:     job.Dataset.Len(),
		StartedAt: time.Now(),
	}
	status := job.Status
	if status == nil {
		status = func(string) {}
	}

	s.logger.Info("send run started", "rows", report.Total, "account", account)

	for i := 0; i < job.Dataset.Len(); i++ {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now()
			s.logger.Warn("send run cancelled", "processed", i, "total", report.Total)
			return report, err
		}

		outcome := s.processRow(ctx, job, i, emailCol, account, status)
		s.record(report, outcome)

		// Pause between dispatch attempts so the provider's rate
		// limiting is never tripped. Rows rejected before the mail call
		// don't consume the delay.
		if i < job.Dataset.Len()-1 && attemptedSend(outcome.Status) {
			if err := s.limiter.Wait(ctx); err != nil {
				report.FinishedAt = time.Now()
				return report, err
			}
		}
	}

	report.FinishedAt = time.Now()
	if s.metrics != nil {
		s.metrics.ObserveRun(report.FinishedAt.Sub(report.StartedAt))
	}

	status(fmt.Sprintf("Complete! Sent %d certificates, %d failed.", report.Sent, report.Failed))
	usage := s.limiter.Usage(account)
	s.logger.Info("send run finished", "sent", report.Sent, "failed", report.Failed,
		"hourly_quota_used", usage.HourlyCount, "daily_quota_used", usage.DailyCount)

	return report, nil
}

func (s *Sender) processRow(ctx context.Context, job *Job, i, emailCol int, account string, status StatusFunc) Outcome {
	row := job.Dataset.RowMap(i)
	email := job.Dataset.Cell(i, emailCol)

	if !mailer.ValidAddress(email) {
		display := email
		if display == "" {
			display = "No email"
		}
		return Outcome{Row: i, Email: display, Status: StatusInvalidAddress, Error: "Invalid email address"}
	}

	status(fmt.Sprintf("Generating certificate %d of %d...", i+1, job.Dataset.Len()))

	renderStart := time.Now()
	imageData, err := s.renderer.RenderPNG(job.Template, row)
	if s.metrics != nil {
		s.metrics.ObserveRender(time.Since(renderStart), err == nil)
	}
	if err != nil {
		s.logger.Debug("render failed", "row", i, "email", email, "error", err)
		return Outcome{Row: i, Email: email, Status: StatusRenderFailed,
			Error: fmt.Sprintf("failed to generate certificate: %v", err)}
	}

	rendered := template.RenderEmail(job.Email, row)
	if strings.TrimSpace(rendered.Subject) == "" {
		return Outcome{Row: i, Email: email, Status: StatusEmptySubject, Error: "Email subject is empty"}
	}
	if strings.TrimSpace(rendered.Body) == "" {
		return Outcome{Row: i, Email: email, Status: StatusEmptyBody, Error: "Email body is empty"}
	}

	if ok, reason := s.limiter.Allow(account); !ok {
		return Outcome{Row: i, Email: email, Status: StatusTransportError, Error: reason}
	}

	status(fmt.Sprintf("Sending email to %s...", email))

	msg := &mailer.Message{
		To:      email,
		Subject: rendered.Subject,
		Body:    rendered.Body,
		Attachment: &mailer.Attachment{
			Filename: AttachmentFilename,
			MIMEType: "image/png",
			Data:     imageData,
		},
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	id, err := s.mailer.Send(sendCtx, job.Credential, msg)
	if err != nil {
		s.logger.Debug("send failed", "row", i, "email", email, "error", err)
		return Outcome{Row: i, Email: email, Status: StatusTransportError, Error: transportMessage(err)}
	}

	return Outcome{Row: i, Email: email, Status: StatusSent, MessageID: id}
}

func (s *Sender) record(report *Report, o Outcome) {
	report.Outcomes = append(report.Outcomes, o)
	if s.metrics != nil {
		s.metrics.ObserveOutcome(string(o.Status))
	}

	if o.Status == StatusSent {
		report.Sent++
		report.Successful = append(report.Successful, o.Email)
		return
	}
	report.Failed++
	report.Failures = append(report.Failures, Failure{Email: o.Email, Error: o.Error})
}

// attemptedSend reports whether the outcome reached the mail dispatch
// step, the only step worth throttling.
func attemptedSend(s Status) bool {
	return s == StatusSent || s == StatusTransportError
}

func transportMessage(err error) string {
	var te *mailer.TransportError
	if errors.As(err, &te) {
		return te.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "send timed out"
	}
	return err.Error()
}
