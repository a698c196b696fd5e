// Package contact models contact-form submissions received from the database
// notification channel: payload parsing, sanitization, and email rendering.
package contact

import (
	"encoding/json"
	"strings"
)

// Placeholder values used when a payload is not a JSON object.
const (
	PlaceholderEmail = "system@portfolio.local"

	contactNotificationName    = "Contact Form Notification"
	contactNotificationSubject = "New Contact Form Activity"
	systemNotificationLabel    = "System Notification"
)

// contactKeywords mark a plain-text payload as contact-form related.
var contactKeywords = []string{"contact", "message", "form"}

// Payload is the parsed form of a raw notification payload. It is either a
// StructuredEvent or a RawTextEvent.
type Payload interface {
	// Raw returns the payload string the value was parsed from.
	Raw() string

	isPayload()
}

// StructuredEvent is a payload that decoded as a JSON object. Missing keys are
// left empty and filled in by Sanitize.
type StructuredEvent struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`

	raw string
}

// Raw returns the original JSON text.
func (s StructuredEvent) Raw() string { return s.raw }

func (StructuredEvent) isPayload() {}

// RawTextEvent is a payload that was not a JSON object.
type RawTextEvent struct {
	Text string
}

// Raw returns the payload text.
func (r RawTextEvent) Raw() string { return r.Text }

func (RawTextEvent) isPayload() {}

// ContactRelated reports whether the text mentions a contact form.
func (r RawTextEvent) ContactRelated() bool {
	lower := strings.ToLower(r.Text)
	for _, kw := range contactKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Parse decides once whether raw is a structured contact record or free text.
// It never fails: anything that is not a JSON object becomes a RawTextEvent.
func Parse(raw string) Payload {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return RawTextEvent{Text: raw}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return RawTextEvent{Text: raw}
	}

	return StructuredEvent{
		Name:    stringField(fields, "name"),
		Email:   stringField(fields, "email"),
		Subject: stringField(fields, "subject"),
		Message: stringField(fields, "message"),
		raw:     raw,
	}
}

// stringField returns the string value stored under key, or "" when the key is
// absent, null, or not a string.
func stringField(fields map[string]json.RawMessage, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}
