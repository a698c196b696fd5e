// Package smtp implements a Provider that delivers email through an SMTP
// server using gomail.
package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/shineum/contact-relay/internal/email"
	relaytls "github.com/shineum/contact-relay/internal/tls"
)

// Config holds the configuration for creating an SMTP Provider.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// Strict enables certificate verification; otherwise it is skipped.
	Strict bool
	CAFile string
}

// Dialer is the subset of *gomail.Dialer used by the provider.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
	DialAndSend(m ...*gomail.Message) error
}

// Provider sends emails through an SMTP server.
type Provider struct {
	host   string
	dialer Dialer
}

// New creates an SMTP Provider with the given configuration.
func New(cfg Config) (*Provider, error) {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	tlsCfg, err := relaytls.ClientConfig(cfg.Host, cfg.Strict, cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to build SMTP TLS config: %w", err)
	}
	if !cfg.Strict {
		slog.Warn("SMTP certificate verification disabled outside production", "host", cfg.Host)
	}
	d.TLSConfig = tlsCfg
	d.SSL = cfg.Port == 465

	return &Provider{host: cfg.Host, dialer: d}, nil
}

// NewWithDialer creates a Provider with a custom dialer, used for testing.
func NewWithDialer(host string, d Dialer) *Provider {
	return &Provider{host: host, dialer: d}
}

// Send delivers msg and returns the generated Message-ID.
//
// gomail has no context support. When ctx ends first, Send returns an error
// but the SMTP conversation keeps running in the background and may still
// deliver the message. Callers that alert on failure can therefore produce
// both the notification and the alert for the same submission.
func (p *Provider) Send(ctx context.Context, msg *email.Email) (string, error) {
	id := messageID(msg.From)
	m := buildMessage(msg, id)

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.dialer.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("SMTP send via %s failed: %w", p.host, err)
		}
		return id, nil
	case <-ctx.Done():
		return "", fmt.Errorf("SMTP send via %s abandoned: %w", p.host, ctx.Err())
	}
}

// Verify dials the server and authenticates without sending anything.
func (p *Provider) Verify(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s, err := p.dialer.Dial()
		if err != nil {
			errCh <- err
			return
		}
		errCh <- s.Close()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("SMTP verify %s failed: %w", p.host, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// buildMessage converts msg into a gomail message with a plain-text part
// and an HTML alternative.
func buildMessage(msg *email.Email, id string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From, msg.FromName)
	m.SetHeader("To", msg.To...)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", id)

	switch {
	case msg.TextBody != "" && msg.HtmlBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HtmlBody)
	case msg.HtmlBody != "":
		m.SetBody("text/html", msg.HtmlBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}
	return m
}

// messageID returns a unique Message-ID in the sender's domain.
func messageID(from string) string {
	domain := "localhost"
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		domain = from[i+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
