package mail

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
	"github.com/ManuelReschke/ForumFox/internal/pkg/logger"
)

const (
	ProviderBrevo = "brevo"
	ProviderSMTP  = "smtp"
	ProviderLog   = "log"
)

var ErrInvalidMessage = errors.New("mail: message needs a recipient and a subject")

// Message is a single transactional email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" || strings.TrimSpace(m.Subject) == "" {
		return ErrInvalidMessage
	}
	return nil
}

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Address is the From identity of outgoing mail.
type Address struct {
	Name  string
	Email string
}

func senderAddress() Address {
	return Address{
		Name:  env.GetEnv("MAIL_FROM_NAME", "ForumFox"),
		Email: env.GetEnv("MAIL_FROM_EMAIL", "no-reply@localhost"),
	}
}

// NewSenderFromEnv picks the provider from MAIL_PROVIDER. Brevo is used
// when BREVO_API_KEY is set, SMTP when SMTP_HOST is set, otherwise mail is
// only logged.
func NewSenderFromEnv() Sender {
	provider := strings.ToLower(env.GetEnv("MAIL_PROVIDER", ""))
	if provider == "" {
		switch {
		case env.GetEnv("BREVO_API_KEY", "") != "":
			provider = ProviderBrevo
		case env.GetEnv("SMTP_HOST", "") != "":
			provider = ProviderSMTP
		default:
			provider = ProviderLog
		}
	}

	switch provider {
	case ProviderBrevo:
		return NewBrevoSender(env.GetEnv("BREVO_API_KEY", ""), senderAddress())
	case ProviderSMTP:
		return NewSMTPSenderFromEnv()
	default:
		return NewLogSender(logger.Named("mail"))
	}
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.Info("mail not delivered, no provider configured",
		zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
