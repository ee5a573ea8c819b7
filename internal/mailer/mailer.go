// Package mailer sends one personalized message with an attachment per
// recipient through the organizer's own mail account.
package mailer

import (
	"context"
	"errors"
	"strings"
)

// ErrNoCredential is returned when a backend requires a bearer
// credential and none was provided.
var ErrNoCredential = errors.New("no mail credential available")

// Attachment is a binary part attached to a message.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// Message is one outbound email.
type Message struct {
	To         string
	Subject    string
	Body       string
	Attachment *Attachment
}

// Mailer sends a single message. The credential is the opaque bearer
// token of the active session; backends that authenticate differently
// may ignore it.
type Mailer interface {
	Send(ctx context.Context, credential string, msg *Message) (string, error)
}

// TransportError is a send failure shaped like the provider's HTTP
// response: status code plus the provider's message when one was
// returned.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	return e.Message
}

// ValidAddress reports whether an address is plausible enough to
// attempt a send: non-empty and containing an "@". Full RFC validation
// is deliberately not applied; the provider is the authority.
func ValidAddress(addr string) bool {
	return addr != "" && strings.Contains(addr, "@")
}
