package notify

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds SMTP settings, read from environment variables so
// credentials stay out of config files and flags.
type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

// SMTPConfigFromEnv reads SMTPConfig from the environment.
func SMTPConfigFromEnv() (*SMTPConfig, error) {
	cfg, err := env.ParseAs[SMTPConfig]()
	if err != nil {
		return nil, fmt.Errorf("error parsing SMTP environment: %w", err)
	}
	return &cfg, nil
}

// Enabled reports whether enough settings are present to send mail. When
// false, the server falls back to a NoopSender.
func (c *SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// SMTPSender delivers messages over SMTP via gomail.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender constructs an SMTPSender from config.
func NewSMTPSender(cfg *SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

// Send delivers a single message.
func (s *SMTPSender) Send(msg Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return s.dialer.DialAndSend(m)
}

// NoopSender discards all messages. Used when SMTP is not configured and in
// tests.
type NoopSender struct{}

func (NoopSender) Send(Message) error { return nil }
