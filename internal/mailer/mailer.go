// Package mailer delivers summary emails through an external provider.
package mailer

import "context"

// Sender delivers one formatted message per invocation.
type Sender interface {
	// Send delivers an HTML email and returns the provider message ID.
	Send(ctx context.Context, to, subject, htmlBody string) (string, error)
	Name() string // "resend", "smtp"
}
