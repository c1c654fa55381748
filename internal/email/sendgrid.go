package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridMailer sends email through the SendGrid v3 API.
type SendGridMailer struct {
	apiKey   string
	fromName string
	fromMail string
	host     string
}

// NewSendGridMailer returns a mailer for apiKey. An empty host uses the public API.
func NewSendGridMailer(apiKey, fromName, fromMail, host string) *SendGridMailer {
	return &SendGridMailer{apiKey: apiKey, fromName: fromName, fromMail: fromMail, host: host}
}

func (s *SendGridMailer) Configured() bool {
	return s.apiKey != ""
}

func (s *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if !s.Configured() {
		return fmt.Errorf("sendgrid: %w", ErrNotConfigured)
	}

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(s.fromName, s.fromMail))
	message.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", msg.TextBody))
	if msg.HTMLBody != "" {
		message.AddContent(mail.NewContent("text/html", msg.HTMLBody))
	}

	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	resp, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Provider: "sendgrid", StatusCode: resp.StatusCode}
	}
	return nil
}
