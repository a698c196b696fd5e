package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecentMessages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/contact_messages", r.URL.Path)
		assert.Equal(t, "name,email,message,subject,created_at", r.URL.Query().Get("select"))
		assert.Equal(t, "created_at.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer anon-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"name":"Jane","email":"jane@example.com","message":"Hi","subject":"Hello","created_at":"2026-03-14T09:30:00+00:00"},
			{"name":"John","email":"john@example.com","message":"Yo","subject":null,"created_at":"2026-03-13T08:00:00Z"}
		]`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL + "/", AnonKey: "anon-key"})
	require.NoError(t, err)

	recs, err := c.RecentMessages(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "Jane", recs[0].Name)
	assert.Equal(t, "Hello", recs[0].Subject)
	assert.True(t, recs[0].CreatedAt.Equal(time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)))
	assert.Equal(t, "John", recs[1].Name)
	assert.Empty(t, recs[1].Subject)
}

func TestRecentMessages_DefaultLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, AnonKey: "k"})
	require.NoError(t, err)

	recs, err := c.RecentMessages(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecentMessages_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid API key"}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, AnonKey: "bad"})
	require.NoError(t, err)

	_, err = c.RecentMessages(context.Background(), 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid API key", apiErr.Message)
}

func TestRecentMessages_BadJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, AnonKey: "k"})
	require.NoError(t, err)

	_, err = c.RecentMessages(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URL: "https://project.supabase.co"})
	assert.Error(t, err)

	_, err = New(Config{AnonKey: "k"})
	assert.Error(t, err)
}
