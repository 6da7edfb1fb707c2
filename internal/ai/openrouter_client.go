package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	defaultOpenRouterAppName = "Support Inbox"
)

type OpenRouterClientConfig struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	SiteURL    string
	AppName    string
}

// OpenRouterClient talks to any OpenAI-compatible chat completions endpoint.
type OpenRouterClient struct {
	endpoint endpoint
}

func NewOpenRouterClient(config OpenRouterClientConfig) *OpenRouterClient {
	baseURL := config.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	ep := newEndpoint("openrouter", baseURL, config.APIKey, config.Timeout, config.MaxRetries, config.HTTPClient)
	if siteURL := strings.TrimSpace(config.SiteURL); siteURL != "" {
		ep.headers.Set("HTTP-Referer", siteURL)
	}
	appName := strings.TrimSpace(config.AppName)
	if appName == "" {
		appName = defaultOpenRouterAppName
	}
	ep.headers.Set("X-Title", appName)
	return &OpenRouterClient{endpoint: ep}
}

func (c *OpenRouterClient) Available() bool {
	return c.endpoint.available()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenRouterClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	payload := chatRequest{
		Model:       request.Model,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxOutputTokens,
	}
	if instructions := strings.TrimSpace(request.Instructions); instructions != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: instructions})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: request.Input})
	if request.JSONMode {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var response chatResponse
	if err := c.endpoint.postJSON(ctx, "/chat/completions", payload, &response); err != nil {
		return GenerateResult{}, err
	}

	text := response.text()
	if text == "" {
		return GenerateResult{}, errors.New("openrouter response without text output")
	}
	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(response.Model, request.Model),
		Usage: TokenUsage{
			InputTokens:  response.Usage.PromptTokens,
			OutputTokens: response.Usage.CompletionTokens,
			TotalTokens:  response.Usage.TotalTokens,
		},
	}, nil
}

// text reads the first choice. Content is either a string or a list of
// typed parts, depending on the upstream model.
func (r chatResponse) text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	raw := r.Choices[0].Message.Content

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return strings.TrimSpace(plain)
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	fragments := make([]string, 0, len(parts))
	for _, part := range parts {
		if fragment := strings.TrimSpace(part.Text); fragment != "" {
			fragments = append(fragments, fragment)
		}
	}
	return strings.Join(fragments, "\n")
}
