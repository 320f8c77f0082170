package mailer

import (
	"context"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/snarg/vox-engine/internal/fault"
)

// ResendMailer sends through the Resend transactional email API.
type ResendMailer struct {
	client *resend.Client
	sender string
}

// NewResendMailer creates a Resend-backed mailer. sender is the verified
// from-address.
func NewResendMailer(apiKey, sender string) *ResendMailer {
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		sender: sender,
	}
}

func (m *ResendMailer) Name() string { return "resend" }

func (m *ResendMailer) Send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.sender,
		To:      []string{to},
		Subject: subject,
		Html:    htmlBody,
	})
	if err != nil {
		return "", classifySendError(err)
	}
	return sent.Id, nil
}

func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not verified") || strings.Contains(msg, "unverified"):
		return fault.Errorf(fault.Forbidden, err, "sender not verified")
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return fault.Errorf(fault.RateLimited, err, "mail send")
	default:
		return fault.Errorf(fault.Unavailable, err, "mail send")
	}
}
