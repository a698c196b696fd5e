package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/shineum/contact-relay/internal/contact"
	"github.com/shineum/contact-relay/internal/email"
	"github.com/shineum/contact-relay/internal/listener"
)

var receivedAt = time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

// recordingProvider records every message and fails the calls listed in fail.
// With honorCtx set, a call made on a done context fails with its error.
type recordingProvider struct {
	mu       sync.Mutex
	sent     []*email.Email
	fail     map[int]error
	panic    map[int]any
	calls    int
	honorCtx bool
}

func (p *recordingProvider) Send(ctx context.Context, msg *email.Email) (string, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.sent = append(p.sent, msg)
	p.mu.Unlock()

	if v, ok := p.panic[i]; ok {
		panic(v)
	}
	if err, ok := p.fail[i]; ok {
		return "", err
	}
	if p.honorCtx && ctx.Err() != nil {
		return "", ctx.Err()
	}
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("send called without a deadline")
	}
	return "id-" + string(rune('0'+i)), nil
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) Sent() []*email.Email {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*email.Email(nil), p.sent...)
}

func newRelay(p *recordingProvider) *Relay {
	return New(Config{
		Provider:    p,
		From:        "relay@example.com",
		FromName:    "Portfolio Contact",
		To:          "owner@example.com",
		SendTimeout: time.Second,
		Now:         func() time.Time { return receivedAt },
	})
}

func TestHandle_WellFormedPayload(t *testing.T) {
	p := &recordingProvider{}
	r := newRelay(p)

	payload := `{"name":"Jane Doe","email":"jane@example.com","message":"Hi there\nSecond line","subject":"Hello"}`
	res := r.Handle(context.Background(), payload, receivedAt)

	require.NoError(t, res.Err)
	assert.False(t, res.Failed())
	assert.Equal(t, "id-0", res.MessageID)
	assert.Equal(t, "Jane Doe", res.Event.Name)
	assert.Equal(t, contact.SourceStructured, res.Event.Source)

	sent := p.Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "jane@example.com", msg.ReplyTo)
	assert.Equal(t, "relay@example.com", msg.From)
	assert.Equal(t, "Portfolio Contact", msg.FromName)
	assert.Equal(t, []string{"owner@example.com"}, msg.To)
	assert.Contains(t, msg.Subject, "Jane Doe")
	assert.Contains(t, msg.Subject, "Hello")
	assert.Contains(t, msg.HtmlBody, "Hi there<br>Second line")
	assert.Contains(t, msg.TextBody, "Hi there\nSecond line")
}

func TestHandle_MalformedPayload(t *testing.T) {
	p := &recordingProvider{}
	r := newRelay(p)

	res := r.Handle(context.Background(), "Hello, please contact me", receivedAt)

	require.NoError(t, res.Err)
	assert.Equal(t, "Contact Form Notification", res.Event.Name)
	assert.Equal(t, contact.PlaceholderEmail, res.Event.Email)
	assert.Equal(t, "New Contact Form Activity", res.Event.Subject)
	assert.Equal(t, "Hello, please contact me", res.Event.Message)
	assert.Equal(t, contact.SourceRawText, res.Event.Source)

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextBody, "Hello, please contact me")
	assert.Equal(t, contact.PlaceholderEmail, sent[0].ReplyTo)
}

func TestHandle_TruncatesStructuredFields(t *testing.T) {
	p := &recordingProvider{}
	r := newRelay(p)

	long := strings.Repeat("x", 300)
	payload := `{"name":"` + long + `","email":"jane@example.com","message":"hi"}`
	res := r.Handle(context.Background(), payload, receivedAt)

	require.NoError(t, res.Err)
	assert.Equal(t, strings.Repeat("x", contact.MaxNameLength), res.Event.Name)
}

func TestHandle_SendFailureSendsAlert(t *testing.T) {
	p := &recordingProvider{fail: map[int]error{0: errors.New("535 authentication failed")}}
	r := newRelay(p)

	res := r.Handle(context.Background(), `{"name":"Jane","email":"jane@example.com","message":"Hi"}`, receivedAt)

	require.Error(t, res.Err)
	assert.True(t, res.Failed())
	assert.Equal(t, StageSend, res.FailedStage())
	assert.True(t, res.Alerted)
	assert.NoError(t, res.AlertErr)

	sent := p.Sent()
	require.Len(t, sent, 2)
	alert := sent[1]
	assert.Equal(t, AlertSubject, alert.Subject)
	assert.Equal(t, []string{"owner@example.com"}, alert.To)
	assert.Contains(t, alert.TextBody, "535 authentication failed")
	assert.Contains(t, alert.TextBody, "Stage: send")
	assert.Empty(t, alert.HtmlBody)
}

func TestHandle_AlertFailureIsDropped(t *testing.T) {
	p := &recordingProvider{fail: map[int]error{
		0: errors.New("connection refused"),
		1: errors.New("still refused"),
	}}
	r := newRelay(p)

	var res Result
	require.NotPanics(t, func() {
		res = r.Handle(context.Background(), `{"name":"Jane","email":"jane@example.com","message":"Hi"}`, receivedAt)
	})

	assert.Equal(t, StageSend, res.FailedStage())
	assert.False(t, res.Alerted)
	require.Error(t, res.AlertErr)
	assert.Contains(t, res.AlertErr.Error(), "still refused")
	assert.Len(t, p.Sent(), 2, "no further sends after the alert fails")
}

func TestHandle_AlertSentAfterCancellation(t *testing.T) {
	p := &recordingProvider{honorCtx: true}
	r := newRelay(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := r.Handle(ctx, `{"name":"Jane","message":"hi"}`, receivedAt)

	require.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, StageSend, res.FailedStage())
	assert.True(t, res.Alerted)
	assert.NoError(t, res.AlertErr)

	sent := p.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, AlertSubject, sent[1].Subject)
}

func TestHandle_ProviderPanicBecomesSendError(t *testing.T) {
	p := &recordingProvider{panic: map[int]any{0: "nil map write"}}
	r := newRelay(p)

	var res Result
	require.NotPanics(t, func() {
		res = r.Handle(context.Background(), `{"name":"Jane","message":"Hi"}`, receivedAt)
	})

	assert.Equal(t, StageSend, res.FailedStage())
	assert.Contains(t, res.Err.Error(), "provider panic")
	assert.True(t, res.Alerted)
}

func TestHandle_EmptyRecipientUsesDefault(t *testing.T) {
	p := &recordingProvider{}
	r := New(Config{Provider: p, From: "relay@example.com"})

	res := r.Handle(context.Background(), `{"name":"Jane","message":"Hi"}`, receivedAt)

	require.NoError(t, res.Err)
	require.Len(t, p.Sent(), 1)
	assert.Equal(t, []string{DefaultRecipient}, p.Sent()[0].To)
}

func TestHandleRecord(t *testing.T) {
	p := &recordingProvider{}
	r := newRelay(p)

	created := time.Date(2026, time.February, 1, 8, 0, 0, 0, time.UTC)
	res := r.HandleRecord(context.Background(), contact.Record{
		Name:      "  Jane Doe ",
		Email:     "jane@example.com",
		Message:   "Stored\nmessage",
		CreatedAt: created,
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "Jane Doe", res.Event.Name)
	assert.Equal(t, contact.DefaultSubject, res.Event.Subject)
	assert.Equal(t, created, res.Event.ReceivedAt)
	assert.Equal(t, contact.SourceRecord, res.Event.Source)

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].HtmlBody, "Stored<br>message")
}

func TestHandleNotification(t *testing.T) {
	p := &recordingProvider{}
	r := newRelay(p)

	var h listener.Handler = r.HandleNotification
	h(context.Background(), listener.Notification{
		Channel: "new_contact_message",
		Payload: `{"name":"Jane","email":"jane@example.com","message":"Hi"}`,
	})

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextBody, "Received: Saturday, March 14, 2026 at 09:30 UTC")
}

func TestRunStage(t *testing.T) {
	assert.NoError(t, runStage(StageRender, func() error { return nil }))

	err := runStage(StageRender, func() error { return errors.New("template exploded") })
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageRender, se.Stage)
	assert.Equal(t, "render stage: template exploded", err.Error())

	err = runStage(StageParse, func() error { panic("boom") })
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageParse, se.Stage)
	assert.Contains(t, err.Error(), "panic: boom")
}

func TestResult_FailedStageOnSuccess(t *testing.T) {
	assert.Equal(t, Stage(""), Result{}.FailedStage())
}

func TestHandle_RateLimitExceedsSendTimeout(t *testing.T) {
	p := &recordingProvider{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	r := New(Config{
		Provider:    p,
		To:          "owner@example.com",
		SendTimeout: 50 * time.Millisecond,
		Limiter:     limiter,
	})

	first := r.Handle(context.Background(), `{"name":"Jane","message":"one"}`, receivedAt)
	require.NoError(t, first.Err)

	second := r.Handle(context.Background(), `{"name":"Jane","message":"two"}`, receivedAt)
	assert.Equal(t, StageSend, second.FailedStage())
	assert.Contains(t, second.Err.Error(), "send rate limit")
	assert.False(t, second.Alerted, "the alert shares the exhausted limiter")
	assert.Len(t, p.Sent(), 1)
}
