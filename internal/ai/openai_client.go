package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type OpenAIClientConfig struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	HTTPClient   *http.Client
	Organization string
}

// OpenAIClient generates text through the OpenAI responses API.
type OpenAIClient struct {
	endpoint endpoint
}

func NewOpenAIClient(config OpenAIClientConfig) *OpenAIClient {
	baseURL := config.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultOpenAIBaseURL
	}
	ep := newEndpoint("openai", baseURL, config.APIKey, config.Timeout, config.MaxRetries, config.HTTPClient)
	if organization := strings.TrimSpace(config.Organization); organization != "" {
		ep.headers.Set("OpenAI-Organization", organization)
	}
	return &OpenAIClient{endpoint: ep}
}

func (c *OpenAIClient) Available() bool {
	return c.endpoint.available()
}

type responsesRequest struct {
	Model           string             `json:"model"`
	Input           string             `json:"input"`
	Instructions    string             `json:"instructions,omitempty"`
	Temperature     float64            `json:"temperature"`
	MaxOutputTokens int                `json:"max_output_tokens,omitempty"`
	Text            *responsesTextSpec `json:"text,omitempty"`
}

type responsesTextSpec struct {
	Format struct {
		Type string `json:"type"`
	} `json:"format"`
}

type responsesResponse struct {
	Model      string `json:"model"`
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error) {
	if !c.Available() {
		return GenerateResult{}, ErrProviderUnavailable
	}
	if err := validateRequest(request); err != nil {
		return GenerateResult{}, err
	}

	payload := responsesRequest{
		Model:           request.Model,
		Input:           request.Input,
		Instructions:    strings.TrimSpace(request.Instructions),
		Temperature:     request.Temperature,
		MaxOutputTokens: request.MaxOutputTokens,
	}
	if request.JSONMode {
		payload.Text = &responsesTextSpec{}
		payload.Text.Format.Type = "json_object"
	}

	var response responsesResponse
	if err := c.endpoint.postJSON(ctx, "/responses", payload, &response); err != nil {
		return GenerateResult{}, err
	}

	text := response.text()
	if text == "" {
		return GenerateResult{}, errors.New("openai response without text output")
	}
	return GenerateResult{
		Text:    text,
		ModelID: firstNonEmpty(response.Model, request.Model),
		Usage: TokenUsage{
			InputTokens:  response.Usage.InputTokens,
			OutputTokens: response.Usage.OutputTokens,
			TotalTokens:  response.Usage.TotalTokens,
		},
	}, nil
}

// text prefers the aggregated output_text and otherwise joins every text
// fragment of the output messages.
func (r responsesResponse) text() string {
	if aggregated := strings.TrimSpace(r.OutputText); aggregated != "" {
		return aggregated
	}
	var fragments []string
	for _, output := range r.Output {
		for _, content := range output.Content {
			if content.Type != "output_text" && content.Type != "text" {
				continue
			}
			if fragment := strings.TrimSpace(content.Text); fragment != "" {
				fragments = append(fragments, fragment)
			}
		}
	}
	return strings.Join(fragments, "\n")
}
