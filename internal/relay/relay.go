// Package relay turns database notifications into notification emails and
// reports delivery failures with a best-effort alert email.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/shineum/contact-relay/internal/contact"
	"github.com/shineum/contact-relay/internal/email"
	"github.com/shineum/contact-relay/internal/listener"
	"github.com/shineum/contact-relay/internal/metrics"
	"github.com/shineum/contact-relay/internal/provider"
)

// AlertSubject is the subject of the email sent when a notification could
// not be delivered.
const AlertSubject = "ERROR: Contact Form Notification Failed"

// DefaultRecipient receives notifications when no address is configured.
const DefaultRecipient = "postmaster@localhost"

const defaultSendTimeout = 30 * time.Second

// Mail kinds used as metric labels.
const (
	kindNotification = "notification"
	kindAlert        = "alert"
)

// Stage names a step of the notification pipeline.
type Stage string

const (
	StageParse    Stage = "parse"
	StageSanitize Stage = "sanitize"
	StageRender   Stage = "render"
	StageSend     Stage = "send"
)

// StageError reports which pipeline step failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Config holds the configuration for a Relay.
type Config struct {
	Provider provider.Provider

	// From is the sender address and FromName its display name.
	From     string
	FromName string

	// To receives notifications and alerts. Defaults to DefaultRecipient.
	To string

	// SendTimeout bounds each provider call. Defaults to 30s.
	SendTimeout time.Duration

	// Limiter, if set, paces every provider call, alerts included.
	Limiter *rate.Limiter

	// Now stamps events replayed without a timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Relay forwards contact submissions to the configured provider.
type Relay struct {
	provider    provider.Provider
	from        string
	fromName    string
	to          string
	sendTimeout time.Duration
	limiter     *rate.Limiter
	now         func() time.Time
}

// Result describes the outcome of handling one notification.
type Result struct {
	Event     contact.Event
	MessageID string

	// Err is a *StageError when the notification was not delivered.
	Err error

	// Alerted reports whether the failure alert was delivered; AlertErr holds
	// the reason it was not.
	Alerted  bool
	AlertErr error
}

// Failed reports whether the notification email was not delivered.
func (r Result) Failed() bool {
	return r.Err != nil
}

// FailedStage returns the stage that failed, or "" on success.
func (r Result) FailedStage() Stage {
	var se *StageError
	if errors.As(r.Err, &se) {
		return se.Stage
	}
	return ""
}

// New creates a Relay.
func New(cfg Config) *Relay {
	if cfg.To == "" {
		cfg.To = DefaultRecipient
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Relay{
		provider:    cfg.Provider,
		from:        cfg.From,
		fromName:    cfg.FromName,
		to:          cfg.To,
		sendTimeout: cfg.SendTimeout,
		limiter:     cfg.Limiter,
		now:         cfg.Now,
	}
}

// HandleNotification is a listener.Handler.
func (r *Relay) HandleNotification(ctx context.Context, n listener.Notification) {
	receivedAt := n.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = r.now()
	}
	r.Handle(ctx, n.Payload, receivedAt)
}

// Handle runs a raw payload through parse, sanitize, render, and send. A
// failure in any stage triggers one alert email; nothing is retried.
func (r *Relay) Handle(ctx context.Context, payload string, receivedAt time.Time) Result {
	var res Result

	var parsed contact.Payload
	if err := runStage(StageParse, func() error {
		parsed = contact.Parse(payload)
		if _, ok := parsed.(contact.RawTextEvent); ok {
			metrics.PayloadFallbacks.Inc()
			slog.Warn("payload is not a JSON object, treating it as plain text", "length", len(payload))
		}
		return nil
	}); err != nil {
		return r.failed(ctx, res, err)
	}

	if err := runStage(StageSanitize, func() error {
		res.Event = contact.Sanitize(contact.NewEvent(parsed, receivedAt))
		return nil
	}); err != nil {
		return r.failed(ctx, res, err)
	}

	return r.deliver(ctx, res)
}

// HandleRecord replays a stored contact row through sanitize, render, and
// send.
func (r *Relay) HandleRecord(ctx context.Context, rec contact.Record) Result {
	var res Result

	if err := runStage(StageSanitize, func() error {
		res.Event = contact.Sanitize(rec.Event(r.now()))
		return nil
	}); err != nil {
		return r.failed(ctx, res, err)
	}

	return r.deliver(ctx, res)
}

func (r *Relay) deliver(ctx context.Context, res Result) Result {
	var rendered contact.Rendered
	if err := runStage(StageRender, func() error {
		var err error
		rendered, err = contact.Render(res.Event)
		return err
	}); err != nil {
		return r.failed(ctx, res, err)
	}

	msg := &email.Email{
		From:     r.from,
		FromName: r.fromName,
		To:       []string{r.to},
		ReplyTo:  res.Event.Email,
		Subject:  rendered.Subject,
		TextBody: rendered.Text,
		HtmlBody: rendered.HTML,
	}

	if err := runStage(StageSend, func() error {
		id, err := r.send(ctx, msg, kindNotification)
		res.MessageID = id
		return err
	}); err != nil {
		return r.failed(ctx, res, err)
	}

	slog.Info("notification email sent",
		"provider", r.provider.Name(),
		"message_id", res.MessageID,
		"source", string(res.Event.Source),
	)
	return res
}

// failed records err on res and sends the failure alert. The alert ignores
// cancellation of ctx so it still goes out during shutdown; the send timeout
// bounds it.
func (r *Relay) failed(ctx context.Context, res Result, err error) Result {
	res.Err = err
	slog.Error("error processing notification", "error", err)

	alert := &email.Email{
		From:     r.from,
		FromName: r.fromName,
		To:       []string{r.to},
		Subject:  AlertSubject,
		TextBody: alertBody(err),
	}

	if _, aerr := r.send(context.WithoutCancel(ctx), alert, kindAlert); aerr != nil {
		res.AlertErr = aerr
		slog.Error("failed to send error notification email", "error", aerr)
		return res
	}
	res.Alerted = true
	return res
}

// send calls the provider under the send timeout, after waiting for the
// limiter. A provider panic is reported as an error.
func (r *Relay) send(ctx context.Context, msg *email.Email, kind string) (id string, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("provider panic: %v", p)
		}
		if err != nil {
			metrics.MailSendFailure.WithLabelValues(kind, r.provider.Name()).Inc()
		} else {
			metrics.MailSendSuccess.WithLabelValues(kind, r.provider.Name()).Inc()
		}
	}()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("send rate limit: %w", err)
		}
	}
	return r.provider.Send(ctx, msg)
}

// runStage runs fn and wraps any error or panic in a StageError.
func runStage(stage Stage, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &StageError{Stage: stage, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if err := fn(); err != nil {
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

func alertBody(err error) string {
	stage := "unknown"
	var se *StageError
	if errors.As(err, &se) {
		stage = string(se.Stage)
	}
	return fmt.Sprintf("There was an error processing a contact form submission:\n\nStage: %s\nError: %v\n", stage, err)
}
