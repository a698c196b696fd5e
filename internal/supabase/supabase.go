// Package supabase reads stored contact submissions through the Supabase
// REST API. It backs the diagnostic CLI commands.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/contact-relay/internal/contact"
)

// DefaultLimit is the number of rows RecentMessages returns when limit <= 0.
const DefaultLimit = 5

const (
	table         = "contact_messages"
	selectColumns = "name,email,message,subject,created_at"
)

// Config holds the REST endpoint and the anonymous API key.
type Config struct {
	URL     string
	AnonKey string
}

// Client is a minimal PostgREST client for the contact_messages table.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// New creates a Client. The base URL is the project URL, without /rest/v1.
func New(cfg Config) (*Client, error) {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: 15 * time.Second})
}

// NewWithHTTPClient creates a Client that issues requests through hc.
func NewWithHTTPClient(cfg Config, hc *http.Client) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, errors.New("supabase: URL and anon key are required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("supabase: invalid URL: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		anonKey:    cfg.AnonKey,
		httpClient: hc,
	}, nil
}

// APIError is a non-2xx response from the REST API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase: HTTP %d: %s", e.StatusCode, e.Message)
}

// RecentMessages returns the newest contact submissions, newest first.
func (c *Client) RecentMessages(ctx context.Context, limit int) ([]contact.Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := url.Values{}
	q.Set("select", selectColumns)
	q.Set("order", "created_at.desc")
	q.Set("limit", strconv.Itoa(limit))
	endpoint := c.baseURL + "/rest/v1/" + table + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("supabase: failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+c.anonKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("supabase: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	var records []contact.Record
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("supabase: failed to decode response: %w", err)
	}
	return records, nil
}
