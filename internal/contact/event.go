package contact

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Field length caps, counted in characters.
const (
	MaxNameLength    = 100
	MaxEmailLength   = 100
	MaxSubjectLength = 200
	MaxMessageLength = 5000
)

// Defaults for fields that are empty after trimming.
const (
	DefaultName    = "Unknown"
	DefaultEmail   = "unknown@example.com"
	DefaultSubject = "Contact Form Submission"
	DefaultMessage = "No message content"
)

// Source identifies which payload variant produced an Event.
type Source string

const (
	SourceStructured Source = "structured"
	SourceRawText    Source = "raw_text"
	SourceRecord     Source = "record"
)

// Event is a sanitized contact submission ready to be rendered.
type Event struct {
	Name       string
	Email      string
	Subject    string
	Message    string
	ReceivedAt time.Time
	Source     Source
}

// Record is a contact_messages row as returned by the REST API.
type Record struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Event converts a stored row into an unsanitized Event. Rows without a
// timestamp take receivedAt.
func (r Record) Event(receivedAt time.Time) Event {
	at := r.CreatedAt
	if at.IsZero() {
		at = receivedAt
	}
	return Event{
		Name:       r.Name,
		Email:      r.Email,
		Subject:    r.Subject,
		Message:    r.Message,
		ReceivedAt: at,
		Source:     SourceRecord,
	}
}

// NewEvent builds an unsanitized Event from a parsed payload.
func NewEvent(p Payload, receivedAt time.Time) Event {
	switch v := p.(type) {
	case StructuredEvent:
		msg := v.Message
		if strings.TrimSpace(msg) == "" {
			msg = v.raw
		}
		return Event{
			Name:       v.Name,
			Email:      v.Email,
			Subject:    v.Subject,
			Message:    msg,
			ReceivedAt: receivedAt,
			Source:     SourceStructured,
		}
	case RawTextEvent:
		label := systemNotificationLabel
		subject := systemNotificationLabel
		if v.ContactRelated() {
			label = contactNotificationName
			subject = contactNotificationSubject
		}
		return Event{
			Name:       label,
			Email:      PlaceholderEmail,
			Subject:    subject,
			Message:    v.Text,
			ReceivedAt: receivedAt,
			Source:     SourceRawText,
		}
	default:
		return Event{ReceivedAt: receivedAt}
	}
}

// Sanitize trims, caps, and defaults every field. Applying it to an already
// sanitized Event returns the Event unchanged.
func Sanitize(e Event) Event {
	e.Name = sanitizeField(singleLine(e.Name), MaxNameLength, DefaultName)
	e.Email = sanitizeField(singleLine(e.Email), MaxEmailLength, DefaultEmail)
	e.Subject = sanitizeField(singleLine(e.Subject), MaxSubjectLength, DefaultSubject)
	e.Message = sanitizeField(e.Message, MaxMessageLength, DefaultMessage)
	return e
}

// sanitizeField trims s, truncates it to max characters, and substitutes def
// when nothing is left. The second trim keeps the result stable when the cut
// lands on whitespace.
func sanitizeField(s string, max int, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return strings.TrimSpace(truncate(s, max))
}

// truncate cuts s to at most max runes.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}

// singleLine folds line breaks into spaces so the value is safe in a header.
func singleLine(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
}
