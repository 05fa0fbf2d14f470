package mail

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/ManuelReschke/ForumFox/internal/pkg/env"
)

// SMTPSender sends emails via SMTP
type SMTPSender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     Address

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSenderFromEnv() *SMTPSender {
	from := senderAddress()
	if sender := env.GetEnv("SMTP_SENDER", ""); sender != "" {
		from.Email = sender
	}
	return &SMTPSender{
		Host:     env.GetEnv("SMTP_HOST", ""),
		Port:     env.GetEnv("SMTP_PORT", "587"),
		Username: env.GetEnv("SMTP_USERNAME", ""),
		Password: env.GetEnv("SMTP_PASSWORD", ""),
		From:     from,
		sendMail: smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.Username != "" && s.Password != "" {
		auth = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	addr := fmt.Sprintf("%s:%s", s.Host, s.Port)
	send := s.sendMail
	if send == nil {
		send = smtp.SendMail
	}
	return send(addr, auth, s.From.Email, []string{msg.To}, buildMIME(s.From, msg))
}

func buildMIME(from Address, msg Message) []byte {
	sender := from.Email
	if from.Name != "" {
		sender = fmt.Sprintf("%s <%s>", from.Name, from.Email)
	}
	return []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, msg.To, msg.Subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			msg.HTML,
	)
}
