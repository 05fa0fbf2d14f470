package mail

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// BrevoSender delivers mail through the Brevo transactional API.
type BrevoSender struct {
	cfg    *brevo.Configuration
	client *brevo.APIClient
	from   Address
}

func NewBrevoSender(apiKey string, from Address) *BrevoSender {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	return &BrevoSender{cfg: cfg, client: brevo.NewAPIClient(cfg), from: from}
}

// WithBasePath points the client at another API root (tests, proxies).
func (s *BrevoSender) WithBasePath(basePath string) *BrevoSender {
	s.cfg.BasePath = strings.TrimRight(basePath, "/")
	return s
}

func (s *BrevoSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	email := brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: s.from.Name, Email: s.from.Email},
		To:          []brevo.SendSmtpEmailTo{{Email: msg.To}},
		Subject:     msg.Subject,
		HtmlContent: msg.HTML,
	}
	_, resp, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("brevo API error: status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp != nil && resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("brevo API error: status %d", resp.StatusCode)
	}
	return nil
}
