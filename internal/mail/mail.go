// Package mail is the narrow notification collaborator the Job Runner
// calls into on a negative Build outcome, mirroring
// kozmic/models.py's Build.set_status gating a Flask-Mail send on
// KOZMIC_ENABLE_EMAIL_NOTIFICATIONS and a failure/error status. Mail
// templating and delivery, and project membership lookups, are out of
// scope (spec.md §1) — the Core only knows it has a message and a list
// of recipients to hand off.
package mail

import "context"

// Message is the notification content; the header/HTML split mirrors
// the original's `Message(header, html=html, recipients=recipients)`.
type Message struct {
	Subject    string
	HTML       string
	Recipients []string
}

// Notifier hands a Message off to whatever delivers it. A real
// deployment backs this with an SMTP client or a transactional email
// API (both out of scope here, per spec.md §1).
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// NoOp is a Notifier that does nothing; used when
// ENABLE_EMAIL_NOTIFICATIONS is false or no transport is configured.
type NoOp struct{}

func (NoOp) Send(ctx context.Context, msg Message) error { return nil }

var _ Notifier = NoOp{}
