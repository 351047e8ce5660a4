package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"market-pulse/internal/config"
)

// EmailChannel delivers alerts over plain SMTP.
type EmailChannel struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       []string
	logger   zerolog.Logger

	// send is swappable for tests; defaults to smtp.SendMail
	send func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel constructs the SMTP channel.
func NewEmailChannel(cfg config.EmailConfig, logger zerolog.Logger) *EmailChannel {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	return &EmailChannel{
		host:     cfg.Host,
		port:     port,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		to:       cfg.To,
		logger:   logger.With().Str("component", "alert_email").Logger(),
		send:     smtp.SendMail,
	}
}

// Name identifies the channel in rule actions and delivery rows.
func (c *EmailChannel) Name() string { return "email" }

// Send mails the alert as a plain-text message to all recipients.
func (c *EmailChannel) Send(ctx context.Context, title, body string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", c.from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(c.to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", title))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	addr := fmt.Sprintf("%s:%d", c.host, c.port)
	if err := c.send(addr, auth, c.from, c.to, []byte(msg.String())); err != nil {
		return "", fmt.Errorf("send mail: %w", err)
	}
	return "", nil
}

var _ Channel = (*EmailChannel)(nil)
