package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, m Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	lg *zap.Logger
}

// NewLogMailer returns a LogMailer writing to lg.
func NewLogMailer(lg *zap.Logger) *LogMailer {
	return &LogMailer{lg: lg}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.lg.Info("Mail",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Addr     string
	From     string `default:"orders@kart.local"`
	Username string
	Password string
}

// SMTPMailer sends messages through an SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer returns an SMTPMailer. PLAIN auth is used when a username is
// configured.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg, send: smtp.SendMail}
	if cfg.Username != "" {
		host, _, _ := strings.Cut(cfg.Addr, ":")
		m.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.ContainsAny(msg.To+msg.Subject, "\r\n") {
		return errors.New("header contains line break")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))

	if err := m.send(m.cfg.Addr, m.auth, m.cfg.From, []string{msg.To}, []byte(b.String())); err != nil {
		return errors.Wrapf(err, "send mail to %s", msg.To)
	}
	return nil
}
