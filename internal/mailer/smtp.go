package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snarg/vox-engine/internal/fault"
)

// SMTPMailer delivers over a plain SMTP relay. Fallback for deployments
// without a transactional-email account.
type SMTPMailer struct {
	addr   string // host:port
	auth   smtp.Auth
	sender string
}

// NewSMTPMailer creates an SMTP mailer. username may be empty for
// unauthenticated relays.
func NewSMTPMailer(addr, username, password, sender string) *SMTPMailer {
	var auth smtp.Auth
	if username != "" {
		host := addr
		if idx := strings.IndexByte(addr, ':'); idx >= 0 {
			host = addr[:idx]
		}
		auth = smtp.PlainAuth("", username, password, host)
	}
	return &SMTPMailer{addr: addr, auth: auth, sender: sender}
}

func (m *SMTPMailer) Name() string { return "smtp" }

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	// net/smtp has no context support; honor the deadline from outside the
	// blocking call.
	msgID := fmt.Sprintf("<%s@vox-engine>", uuid.New())
	msg := strings.Join([]string{
		"From: " + m.sender,
		"To: " + to,
		"Subject: " + subject,
		"Message-ID: " + msgID,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		htmlBody,
	}, "\r\n")

	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(m.addr, m.auth, m.sender, []string{to}, []byte(msg))
	}()

	select {
	case <-ctx.Done():
		return "", fault.Errorf(fault.Timeout, ctx.Err(), "smtp send")
	case err := <-errCh:
		if err != nil {
			return "", fault.Errorf(fault.Unavailable, err, "smtp send")
		}
		return msgID, nil
	}
}
