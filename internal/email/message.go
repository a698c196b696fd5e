// Package email defines the outbound email model shared by every delivery provider.
package email

import "net/mail"

// Email represents a fully rendered outbound message.
type Email struct {
	From     string
	FromName string
	To       []string
	ReplyTo  string
	Subject  string
	TextBody string
	HtmlBody string
}

// FromHeader returns the RFC 5322 From header value, including the display
// name when one is configured.
func (e *Email) FromHeader() string {
	if e.FromName == "" {
		return e.From
	}
	addr := mail.Address{Name: e.FromName, Address: e.From}
	return addr.String()
}
