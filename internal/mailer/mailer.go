// Package mailer содержит реализации отправки писем: через SMTP и в журнал.
package mailer

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SMTPMailer отправляет HTML-письма через SMTP-сервер.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer создаёт отправителя для указанного SMTP-сервера. Пустой user отключает аутентификацию.
func NewSMTPMailer(host string, port int, user, password, from string) *SMTPMailer {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, password, host)
	}
	return &SMTPMailer{
		addr: net.JoinHostPort(host, strconv.Itoa(port)),
		from: from,
		auth: auth,
		send: smtp.SendMail,
	}
}

// SendMail отправляет письмо одному получателю.
func (m *SMTPMailer) SendMail(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}

	if err := m.send(m.addr, m.auth, m.from, []string{to}, buildMessage(m.from, to, subject, htmlBody, time.Now())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func buildMessage(from, to, subject, htmlBody string, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

// LogMailer записывает письма в журнал вместо отправки. Используется, если SMTP не настроен.
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer создаёт LogMailer.
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// SendMail записывает адресата и тему письма в журнал.
func (m *LogMailer) SendMail(_ context.Context, to, subject, htmlBody string) error {
	m.logger.Info("mail not sent, smtp disabled",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("bodySize", len(htmlBody)),
	)
	return nil
}
