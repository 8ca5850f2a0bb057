// Package notify delivers account e-mails: verification links and password
// reset links.
package notify

import (
	"context"
	"log/slog"
)

// Templates understood by mailers.
const (
	TemplateVerification  = "verification"
	TemplatePasswordReset = "password_reset"
)

// Message is one e-mail to deliver. Token is the plaintext single-use
// token the recipient needs.
type Message struct {
	Template string `json:"template"`
	To       string `json:"to"`
	Name     string `json:"name"`
	Token    string `json:"token"`
}

// Mailer sends a Message.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// Notifier is what the account service talks to.
type Notifier interface {
	SendVerification(ctx context.Context, to, name, token string) error
	SendPasswordReset(ctx context.Context, to, name, token string) error
}

// LogMailer writes messages to the log instead of an SMTP relay.
type LogMailer struct {
	Log *slog.Logger
}

// Send logs m. The token is logged at debug level only.
func (l LogMailer) Send(ctx context.Context, m Message) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "email dispatched", "template", m.Template, "to", m.To)
	log.DebugContext(ctx, "email token", "template", m.Template, "to", m.To, "token", m.Token)
	return nil
}

// Direct is a Notifier that hands messages straight to a Mailer.
type Direct struct {
	Mailer Mailer
}

func (d Direct) SendVerification(ctx context.Context, to, name, token string) error {
	return d.Mailer.Send(ctx, Message{Template: TemplateVerification, To: to, Name: name, Token: token})
}

func (d Direct) SendPasswordReset(ctx context.Context, to, name, token string) error {
	return d.Mailer.Send(ctx, Message{Template: TemplatePasswordReset, To: to, Name: name, Token: token})
}

// Recorder is an in-memory Mailer for tests and local runs.
type Recorder struct {
	Messages []Message
}

func (r *Recorder) Send(_ context.Context, m Message) error {
	r.Messages = append(r.Messages, m)
	return nil
}

// Last returns the most recent message for template, if any.
func (r *Recorder) Last(template string) (Message, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Template == template {
			return r.Messages[i], true
		}
	}
	return Message{}, false
}
