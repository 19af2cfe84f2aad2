package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-kit/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// DefaultSendGridURL is the SendGrid v3 API root.
const DefaultSendGridURL = "https://api.sendgrid.com"

const sendPath = "/v3/mail/send"

// Mailer sends reports through the SendGrid mail API.
type Mailer struct {
	baseURL  string
	apiKey   string
	from     string
	fromName string
	to       []string
	logger   log.Logger
	// KeyFunc, when set, supplies the API key on every send.
	KeyFunc func(ctx context.Context) (string, error)
}

func NewMailer(baseURL, apiKey, from string, to []string, logger log.Logger) *Mailer {
	if baseURL == "" {
		baseURL = DefaultSendGridURL
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Mailer{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		apiKey:   apiKey,
		from:     from,
		fromName: "appsvcbuild",
		to:       to,
		logger:   logger,
	}
}

func (m *Mailer) SendSuccess(ctx context.Context, r Report) error {
	return m.send(ctx, m.recipients(r), SuccessSubject(r), SuccessBody(r))
}

func (m *Mailer) SendFailure(ctx context.Context, r Report) error {
	return m.send(ctx, m.recipients(r), FailureSubject(r), FailureBody(r))
}

func (m *Mailer) recipients(r Report) []string {
	if len(r.Recipients) > 0 {
		return r.Recipients
	}
	return m.to
}

func (m *Mailer) message(to []string, subject, body string) *mail.SGMailV3 {
	msg := mail.NewV3Mail()
	msg.SetFrom(mail.NewEmail(m.fromName, m.from))
	msg.Subject = subject
	p := mail.NewPersonalization()
	for _, addr := range to {
		p.AddTos(mail.NewEmail("", addr))
	}
	msg.AddPersonalizations(p)
	msg.AddContent(mail.NewContent("text/plain", body), mail.NewContent("text/html", body))
	return msg
}

func (m *Mailer) send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		m.logger.Log("msg", "no recipients, mail skipped", "subject", subject)
		return nil
	}
	key := m.apiKey
	if m.KeyFunc != nil {
		var err error
		if key, err = m.KeyFunc(ctx); err != nil {
			return fmt.Errorf("mail api key: %w", err)
		}
	}

	client := sendgrid.NewSendClient(key)
	client.BaseURL = m.baseURL + sendPath
	resp, err := client.SendWithContext(ctx, m.message(to, subject, body))
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send mail failed: %d %s", resp.StatusCode, strings.TrimSpace(resp.Body))
	}
	m.logger.Log("msg", "mail sent", "subject", subject, "recipients", len(to))
	return nil
}
