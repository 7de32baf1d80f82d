package mail

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTP sends through a plain SMTP relay using gomail.
type SMTP struct {
	dialer    *gomail.Dialer
	fromEmail string
	fromName  string
}

func NewSMTP(host string, port int, username, password, fromEmail, fromName string) *SMTP {
	return &SMTP{
		dialer:    gomail.NewDialer(host, port, username, password),
		fromEmail: fromEmail,
		fromName:  fromName,
	}
}

func (s *SMTP) Send(ctx context.Context, e Email) (string, error) {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.fromEmail, s.fromName)
	msg.SetAddressHeader("To", e.ToEmail, e.ToName)
	msg.SetHeader("Subject", e.Subject)
	msg.SetBody("text/html", e.Body)

	// gomail has no context support; run the dial-and-send in a goroutine so
	// the per-send timeout still applies.
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(msg) }()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
	}
	return "smtp-" + uuid.NewString(), nil
}
