package advisory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wirePart struct {
	Text string `json:"text"`
}

type wireRequest struct {
	Contents []struct {
		Role  string     `json:"role"`
		Parts []wirePart `json:"parts"`
	} `json:"contents"`
}

func newGeminiServer(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewGeminiClient(context.Background(), server.Client(), Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	return client
}

func TestGeminiClient_GenerateAdvisory(t *testing.T) {
	var got wireRequest
	client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"## Summary\n"},{"text":"All clear."}]}}]}`))
	})

	text, err := client.GenerateAdvisory(context.Background(), Prompt{System: "ctx", Task: "task"})
	require.NoError(t, err)
	assert.Equal(t, "## Summary\nAll clear.", text)

	require.Len(t, got.Contents, 1)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, []wirePart{{Text: "ctx"}, {Text: "task"}}, got.Contents[0].Parts)
}

func TestGeminiClient_SinglePrompt(t *testing.T) {
	var got wireRequest
	client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	text, err := client.GenerateAdvisory(context.Background(), Prompt{Task: "checklist"})
	require.NoError(t, err)
	assert.Empty(t, text)
	require.Len(t, got.Contents, 1)
	assert.Equal(t, []wirePart{{Text: "checklist"}}, got.Contents[0].Parts)
}

func TestGeminiClient_ProviderError(t *testing.T) {
	client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"API key not valid","status":"PERMISSION_DENIED"}}`))
	})

	_, err := client.GenerateAdvisory(context.Background(), Prompt{Task: "x"})
	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, http.StatusForbidden, providerErr.StatusCode)
	assert.Equal(t, "PERMISSION_DENIED", providerErr.Status)
	assert.Equal(t, "API key not valid", providerErr.Message)
}

func TestGeminiClient_PlainErrorBody(t *testing.T) {
	client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GenerateAdvisory(context.Background(), Prompt{Task: "x"})
	assert.Error(t, err)
}

func TestGeminiClient_ContextTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newGeminiServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	// Registered after the server so it runs before server.Close.
	t.Cleanup(func() { close(release) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.GenerateAdvisory(ctx, Prompt{Task: "x"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), nil, Config{})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}
