package sender

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// Dialer is the part of gomail.Dialer the alerter needs.
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailAlerter отправляет операторам письма о недоставленных уведомлениях.
type EmailAlerter struct {
	dialer Dialer
	from   string
	to     []string
	log    *zap.Logger
}

// NewEmailAlerter создает EmailAlerter поверх SMTP.
func NewEmailAlerter(host string, port int, username, password, from string, to []string, log *zap.Logger) *EmailAlerter {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("email alerter initialized",
		zap.String("smtp_host", host),
		zap.Int("smtp_port", port),
		zap.String("from", from),
		zap.Strings("to", to),
	)
	return NewEmailAlerterWithDialer(gomail.NewDialer(host, port, username, password), from, to, log)
}

func NewEmailAlerterWithDialer(d Dialer, from string, to []string, log *zap.Logger) *EmailAlerter {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailAlerter{dialer: d, from: from, to: to, log: log}
}

// Alert отправляет письмо всем получателям из конфигурации.
func (s *EmailAlerter) Alert(ctx context.Context, subject, body string) error {
	const op = "sender.EmailAlerter.Alert"

	if len(s.to) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("alert email sent", zap.String("op", op), zap.String("subject", subject))
	return nil
}
