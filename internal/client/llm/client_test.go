package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelpick/internal/config"
)

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:         baseURL,
		APIKey:          "sk-test",
		Model:           "test-model",
		Temperature:     0.7,
		TimeoutSeconds:  5,
		BreakerFailures: 2,
		BreakerCooldown: 60,
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, 0.4, req.Temperature)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "user", req.Messages[1].Role)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		writeJSON(w, http.StatusOK, `{"model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":"{\"picks\":[]}"}}]}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	out, err := c.Complete(context.Background(), Request{System: "be brief", User: "{}", Temperature: 0.4})
	require.NoError(t, err)
	assert.Equal(t, `{"picks":[]}`, out)
}

func TestComplete_NotConfigured(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	c := NewClient(cfg)

	assert.False(t, c.IsConfigured())
	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestComplete_APIErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), Request{})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL)).Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestComplete_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, `{}`)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	for range 2 {
		_, err := c.Complete(context.Background(), Request{})
		require.Error(t, err)
	}

	_, err := c.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "open", c.BreakerState())
}

func TestReconfigure(t *testing.T) {
	c := NewClient(testConfig("http://127.0.0.1:1"))
	require.True(t, c.IsConfigured())

	cfg := testConfig("http://127.0.0.1:1")
	cfg.APIKey = ""
	c.Reconfigure(cfg)
	assert.False(t, c.IsConfigured())
	assert.Equal(t, "closed", c.BreakerState())
}
