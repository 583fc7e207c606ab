package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// ErrRateLimited signals a transient provider rate-limit condition. The
// delivery pipeline re-raises it unchanged so the queue's backoff policy
// owns the retry timing; it must never be folded into a terminal failure.
var ErrRateLimited = errors.New("transport rate limited")

// Email is the unit handed to a Transport
type Email struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Transport attempts a single delivery and reports the provider message id.
// Implementations return ErrRateLimited (possibly wrapped) for throttling
// responses and any other error for terminal failures.
type Transport interface {
	Send(ctx context.Context, email Email) (messageID string, err error)
}

// SMTPMailer delivers through a single SMTP relay via gomail
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// Send delivers one email. gomail does not surface a provider message id, so
// a Message-ID header is generated here and returned for tracking.
func (m *SMTPMailer) Send(ctx context.Context, email Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	from := email.From
	if from == "" {
		from = m.from
	}

	messageID := fmt.Sprintf("<%s@mailforge>", uuid.New().String())

	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", messageID)
	msg.SetBody("text/html", email.Body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		if isRateLimitSMTP(err) {
			return "", fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return "", err
	}

	return messageID, nil
}

// isRateLimitSMTP classifies throttling replies by SMTP code. 421 and the
// 45x family cover the common "too many messages" responses.
func isRateLimitSMTP(err error) bool {
	s := err.Error()
	for _, code := range []string{"421 ", "450 ", "451 ", "452 "} {
		if strings.Contains(s, code) {
			return true
		}
	}
	return false
}
