package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTPConfig configures the SMTP submission backend.
type SMTPConfig struct {
	Addr     string `yaml:"addr"`     // host:port of the submission endpoint
	Username string `yaml:"username"` // SASL PLAIN username
	Password string `yaml:"password"` // SASL PLAIN password
	From     string `yaml:"from"`     // envelope and header From address
	TLS      bool   `yaml:"tls"`      // implicit TLS instead of STARTTLS
}

// SMTPMailer submits messages to the organizer's own SMTP server with
// SASL PLAIN authentication. It implements the same contract as the
// Gmail backend; the session credential is unused since the server
// authenticates with its own account.
type SMTPMailer struct {
	cfg SMTPConfig
}

// NewSMTPMailer creates an SMTP submission mailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// Send submits one message. The returned id is empty; SMTP submission
// has no provider message id.
func (m *SMTPMailer) Send(ctx context.Context, _ string, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := buildSMTPMessage(m.cfg.From, msg)
	auth := sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)

	var err error
	if m.cfg.TLS {
		err = smtp.SendMailTLS(m.cfg.Addr, auth, m.cfg.From, []string{msg.To}, bytes.NewReader(data))
	} else {
		err = smtp.SendMail(m.cfg.Addr, auth, m.cfg.From, []string{msg.To}, bytes.NewReader(data))
	}
	if err != nil {
		return "", &TransportError{Message: err.Error()}
	}

	return "", nil
}

// buildSMTPMessage assembles an RFC 5322 message with CRLF line endings
// for the SMTP DATA phase. Same part layout as the REST wire format,
// plus the From header SMTP submission requires.
func buildSMTPMessage(from string, msg *Message) []byte {
	var lines []string
	if msg.Attachment == nil {
		lines = []string{
			"From: " + from,
			"To: " + msg.To,
			"Subject: " + msg.Subject,
			"MIME-Version: 1.0",
			`Content-Type: text/plain; charset="UTF-8"`,
			"",
			msg.Body,
		}
	} else {
		att := msg.Attachment
		lines = []string{
			"From: " + from,
			"To: " + msg.To,
			"Subject: " + msg.Subject,
			"MIME-Version: 1.0",
			fmt.Sprintf(`Content-Type: multipart/mixed; boundary="%s"`, mimeBoundary),
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
			wrapBase64(att.Data),
			"--" + mimeBoundary + "--",
		}
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

// wrapBase64 encodes data in 76-column lines per RFC 2045.
func wrapBase64(data []byte) string {
	enc := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	for len(enc) > 76 {
		b.WriteString(enc[:76])
		b.WriteString("\r\n")
		enc = enc[76:]
	}
	b.WriteString(enc)
	return b.String()
}
