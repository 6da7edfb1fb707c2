package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatReply = `{
	"model":"openai/gpt-4o-mini",
	"choices":[{"message":{"role":"assistant","content":"{\"sentiment\":\"negative\",\"score\":2,\"confidence\":0.9}"}}],
	"usage":{"prompt_tokens":123,"completion_tokens":22,"total_tokens":145}
}`

func newOpenRouterTestClient(t *testing.T, handler http.HandlerFunc, config OpenRouterClientConfig) *OpenRouterClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config.BaseURL = server.URL
	if config.APIKey == "" {
		config.APIKey = "test-key"
	}
	config.Timeout = 2 * time.Second
	client := NewOpenRouterClient(config)
	client.endpoint.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func sentimentRequest() GenerateRequest {
	return GenerateRequest{
		Model:           "openai/gpt-4o-mini",
		Instructions:    "Return JSON only",
		Input:           "Classify: the dashboard is down again",
		Temperature:     0.1,
		MaxOutputTokens: 150,
		JSONMode:        true,
	}
}

func TestOpenRouterClientSendsChatPayload(t *testing.T) {
	var received chatRequest
	var headers http.Header
	client := newOpenRouterTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(chatReply))
	}, OpenRouterClientConfig{SiteURL: "https://inbox.example.com"})

	result, err := client.Generate(context.Background(), sentimentRequest())
	require.NoError(t, err)

	assert.Equal(t, `{"sentiment":"negative","score":2,"confidence":0.9}`, result.Text)
	assert.Equal(t, TokenUsage{InputTokens: 123, OutputTokens: 22, TotalTokens: 145}, result.Usage)
	assert.Equal(t, "openai/gpt-4o-mini", result.ModelID)

	assert.Equal(t, "Bearer test-key", headers.Get("Authorization"))
	assert.Equal(t, "https://inbox.example.com", headers.Get("HTTP-Referer"))
	assert.Equal(t, defaultOpenRouterAppName, headers.Get("X-Title"))

	require.Len(t, received.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "Return JSON only"}, received.Messages[0])
	assert.Equal(t, "user", received.Messages[1].Role)
	assert.Equal(t, map[string]string{"type": "json_object"}, received.ResponseFormat)
	assert.Equal(t, 150, received.MaxTokens)
}

func TestOpenRouterClientParsesContentParts(t *testing.T) {
	client := newOpenRouterTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":[{"type":"text","text":"Hi Ana,"},{"type":"text","text":" "},{"type":"text","text":"we are on it."}]}}]}`))
	}, OpenRouterClientConfig{})

	result, err := client.Generate(context.Background(), GenerateRequest{Model: "m", Input: "draft"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana,\nwe are on it.", result.Text)
	assert.Equal(t, "m", result.ModelID)
}

func TestOpenRouterClientRetryPolicy(t *testing.T) {
	cases := []struct {
		name      string
		failures  int32
		status    int
		wantCalls int32
		wantErr   bool
	}{
		{name: "rate limit then success", failures: 1, status: http.StatusTooManyRequests, wantCalls: 2},
		{name: "server errors exhaust retries", failures: 10, status: http.StatusServiceUnavailable, wantCalls: 3, wantErr: true},
		{name: "client error is not retried", failures: 10, status: http.StatusUnprocessableEntity, wantCalls: 1, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			client := newOpenRouterTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if atomic.AddInt32(&calls, 1) <= tc.failures {
					w.WriteHeader(tc.status)
					_, _ = w.Write([]byte(`{"error":"nope"}`))
					return
				}
				_, _ = w.Write([]byte(chatReply))
			}, OpenRouterClientConfig{MaxRetries: 2})

			_, err := client.Generate(context.Background(), sentimentRequest())
			assert.Equal(t, tc.wantCalls, atomic.LoadInt32(&calls))
			if !tc.wantErr {
				require.NoError(t, err)
				return
			}
			var providerErr *ProviderError
			require.True(t, errors.As(err, &providerErr))
			assert.Equal(t, tc.status, providerErr.StatusCode)
		})
	}
}

func TestOpenRouterClientHonorsRetryAfter(t *testing.T) {
	var calls int32
	var waits []time.Duration
	client := newOpenRouterTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(chatReply))
	}, OpenRouterClientConfig{})
	client.endpoint.sleep = func(_ context.Context, wait time.Duration) error {
		waits = append(waits, wait)
		return nil
	}

	_, err := client.Generate(context.Background(), sentimentRequest())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second}, waits)
}

func TestOpenRouterClientUnavailableWithoutKey(t *testing.T) {
	client := NewOpenRouterClient(OpenRouterClientConfig{})
	assert.False(t, client.Available())

	_, err := client.Generate(context.Background(), sentimentRequest())
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, baseBackoff, backoff(0, errors.New("timeout")))
	assert.Equal(t, 2*baseBackoff, backoff(1, errors.New("timeout")))
	assert.Equal(t, maxBackoff, backoff(10, errors.New("timeout")))
	assert.Equal(t, maxBackoff, backoff(0, &ProviderError{StatusCode: 429, RetryAfter: time.Minute}))
	assert.Equal(t, baseBackoff, backoff(0, &ProviderError{StatusCode: 429, RetryAfter: time.Millisecond}))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("-1"))
	assert.Zero(t, parseRetryAfter("soon"))
	assert.Greater(t, parseRetryAfter(time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)), 50*time.Minute)
}

func TestRetryableErrors(t *testing.T) {
	assert.True(t, retryable(&ProviderError{StatusCode: http.StatusBadGateway}))
	assert.False(t, retryable(&ProviderError{StatusCode: http.StatusUnauthorized}))
	assert.True(t, retryable(context.DeadlineExceeded))
	assert.False(t, retryable(errors.New("boom")))
}
