package notify

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Email struct {
	To      string
	Subject string
	Text    string
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SendGridMailer sends transactional email through the SendGrid v3 API.
type SendGridMailer struct {
	apiKey string
	from   *mail.Email
	host   string
}

func NewSendGridMailer(apiKey, from string) *SendGridMailer {
	return &SendGridMailer{apiKey: apiKey, from: mail.NewEmail("EduFund Support", from)}
}

func (m *SendGridMailer) Send(ctx context.Context, e Email) error {
	msg := mail.NewSingleEmail(m.from, e.Subject, mail.NewEmail("", e.To), e.Text, "")

	req := sendgrid.GetRequest(m.apiKey, "/v3/mail/send", m.host)
	req.Method = "POST"
	req.Body = mail.GetRequestBody(msg)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
