package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_AddsScheme(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "http://127.0.0.1:7733", NewClient("127.0.0.1:7733", 0).baseURL)
	assert.Equal(t, "https://prizm.example", NewClient("https://prizm.example/", 0).baseURL)
	assert.Equal(t, DefaultClientTimeout, NewClient("x", 0).http.Timeout)
}

func TestClient_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"conflict","message":"suggestion is not pending"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Get(context.Background(), "s-1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "conflict", apiErr.Code)
	assert.Equal(t, "suggestion is not pending", apiErr.Message)
}

func TestClient_NonJSONError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "http_error", apiErr.Code)
}

func TestClient_NotRunning(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := NewClient(addr, time.Second).Health(context.Background())
	assert.True(t, errors.Is(err, ErrNotRunning), "got %v", err)
}
