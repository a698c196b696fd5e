package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/contact-relay/internal/config"
	"github.com/shineum/contact-relay/internal/contact"
	"github.com/shineum/contact-relay/internal/listener"
	"github.com/shineum/contact-relay/internal/relay"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestBuildPolicy(t *testing.T) {
	rc := config.RetryConfig{
		Strategy:       config.RetryFixed,
		Max:            time.Minute,
		Connect:        10 * time.Second,
		Subscribe:      time.Second,
		ConnectionLost: 5 * time.Second,
		Probe:          time.Second,
	}

	fixed := buildPolicy(rc)
	assert.Equal(t, 10*time.Second, fixed.Delay(listener.FailureConnect, 3))
	assert.Equal(t, 5*time.Second, fixed.Delay(listener.FailureConnectionLost, 0))

	rc.Strategy = config.RetryExponential
	exp := buildPolicy(rc)
	assert.Equal(t, 20*time.Second, exp.Delay(listener.FailureConnect, 1))
	assert.Equal(t, time.Minute, exp.Delay(listener.FailureConnect, 10))
}

func TestSelectProvider(t *testing.T) {
	ctx := context.Background()

	p, name, err := selectProvider(ctx, &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderStdout, name)
	assert.Equal(t, "stdout", p.Name())

	p, name, err = selectProvider(ctx, &config.Config{
		Graph: config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "g@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderGraph, name)
	assert.Equal(t, "msgraph", p.Name())

	p, name, err = selectProvider(ctx, &config.Config{
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u@example.com", Password: "p"},
	})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderSMTP, name)
	assert.Equal(t, "smtp", p.Name())

	_, _, err = selectProvider(ctx, &config.Config{Provider: "ses"})
	assert.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "-", oneLine("  \n ", 10))
	assert.Equal(t, "a b c", oneLine("a\nb\tc", 10))
	assert.Equal(t, "abcdefg...", oneLine("abcdefghijklmnop", 10))
	assert.Equal(t, "ééé...", oneLine(strings.Repeat("é", 20), 6))
}

func TestPrintRecords(t *testing.T) {
	var buf bytes.Buffer
	printRecords(&buf, nil)
	assert.Equal(t, "no contact messages found\n", buf.String())

	buf.Reset()
	printRecords(&buf, []contact.Record{{
		Name:      "Jane",
		Email:     "jane@example.com",
		Message:   "Hi\nthere",
		CreatedAt: time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC),
	}})
	out := buf.String()
	assert.Contains(t, out, "CREATED")
	assert.Contains(t, out, "2026-03-14T09:30:00Z")
	assert.Contains(t, out, "Hi there")
}

func TestReadPayload(t *testing.T) {
	got, err := readPayload(`{"name":"Jane"}`, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Jane"}`, got)

	got, err = readPayload("-", strings.NewReader("from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", got)
}

func TestReportResult(t *testing.T) {
	var buf bytes.Buffer
	err := reportResult(&buf, relay.Result{
		Event:     contact.Event{Name: "Jane", Email: "jane@example.com"},
		MessageID: "abc",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "message id abc")

	buf.Reset()
	sendErr := &relay.StageError{Stage: relay.StageSend, Err: errors.New("refused")}
	err = reportResult(&buf, relay.Result{Err: sendErr, Alerted: true})
	assert.ErrorIs(t, err, sendErr)
	assert.Contains(t, buf.String(), "alert email sent")
}

func TestSendLimiter(t *testing.T) {
	assert.Nil(t, sendLimiter(0))

	l := sendLimiter(30)
	require.NotNil(t, l)
	assert.Equal(t, 30, l.Burst())
	assert.InDelta(t, 0.5, float64(l.Limit()), 1e-9)
}
