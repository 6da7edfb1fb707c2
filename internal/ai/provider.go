package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var ErrProviderUnavailable = errors.New("llm provider unavailable")

const (
	defaultProviderTimeout = 15 * time.Second
	defaultMaxRetries      = 2
	baseBackoff            = 350 * time.Millisecond
	maxBackoff             = 5 * time.Second
	maxErrorMessageBytes   = 700
)

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
	JSONMode        bool
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

// TextGenerator is a single-shot text completion provider.
type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	// RetryAfter is the server-requested wait, zero when none was sent.
	RetryAfter time.Duration
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// endpoint is the JSON-over-HTTPS plumbing shared by the provider clients.
type endpoint struct {
	provider   string
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	httpClient *http.Client
	headers    http.Header
	sleep      func(ctx context.Context, wait time.Duration) error
}

func newEndpoint(provider, baseURL, apiKey string, timeout time.Duration, maxRetries int, client *http.Client) endpoint {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if client == nil {
		client = &http.Client{}
	}
	return endpoint{
		provider:   provider,
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		timeout:    timeout,
		maxRetries: maxRetries,
		httpClient: client,
		headers:    http.Header{},
		sleep:      sleepContext,
	}
}

func (e endpoint) available() bool {
	return e.apiKey != ""
}

// postJSON sends payload to path and decodes the response into out, retrying
// rate limits, server errors and timeouts.
func (e endpoint) postJSON(ctx context.Context, path string, payload, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", e.provider, err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		body, callErr := e.post(ctx, path, encoded)
		if callErr == nil {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode %s response: %w", e.provider, err)
			}
			return nil
		}
		lastErr = callErr

		if attempt == e.maxRetries || !retryable(callErr) {
			break
		}
		if err := e.sleep(ctx, backoff(attempt, callErr)); err != nil {
			return err
		}
	}
	return lastErr
}

func (e endpoint) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(callCtx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", e.provider, err)
	}
	for key, values := range e.headers {
		request.Header[key] = values
	}
	request.Header.Set("Authorization", "Bearer "+e.apiKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	response, err := e.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s transport error: %w", e.provider, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", e.provider, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		message := strings.TrimSpace(string(body))
		if len(message) > maxErrorMessageBytes {
			message = message[:maxErrorMessageBytes]
		}
		return nil, &ProviderError{
			Provider:   e.provider,
			StatusCode: response.StatusCode,
			Message:    message,
			RetryAfter: parseRetryAfter(response.Header.Get("Retry-After")),
		}
	}
	return body, nil
}

func retryable(err error) bool {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// backoff doubles from baseBackoff per attempt, capped at maxBackoff. A
// Retry-After header wins when it asks for longer.
func backoff(attempt int, err error) time.Duration {
	wait := baseBackoff << attempt
	if wait > maxBackoff || wait <= 0 {
		wait = maxBackoff
	}
	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.RetryAfter > wait {
		wait = min(providerErr.RetryAfter, maxBackoff)
	}
	return wait
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := time.Until(at); wait > 0 {
			return wait
		}
	}
	return 0
}

func sleepContext(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func validateRequest(request GenerateRequest) error {
	if strings.TrimSpace(request.Model) == "" {
		return errors.New("model is required")
	}
	if strings.TrimSpace(request.Input) == "" {
		return errors.New("input is required")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
