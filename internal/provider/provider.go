// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/contact-relay/internal/email"
)

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Send delivers an email message through this provider and returns the
	// identifier assigned to the message, which may be empty when the backend
	// does not report one.
	Send(ctx context.Context, msg *email.Email) (string, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Verifier is implemented by providers that can check their connection and
// credentials before the first message is sent.
type Verifier interface {
	Verify(ctx context.Context) error
}
