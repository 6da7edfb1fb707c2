package enrichment

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/iago/support-inbox-back/internal/ai"
	"github.com/iago/support-inbox-back/internal/cache"
	"github.com/iago/support-inbox-back/internal/domain"
	"github.com/iago/support-inbox-back/internal/excerpt"
	"github.com/iago/support-inbox-back/internal/metrics"
	"github.com/iago/support-inbox-back/internal/policy"
	"github.com/iago/support-inbox-back/internal/quality"
	"go.uber.org/zap"
)

const (
	sentimentPrompt  = "sentiment_v1"
	extractionPrompt = "extraction_v1"
	replyPrompt      = "reply_v1"

	jsonInstructions  = "Return only valid JSON. Do not use markdown code fences."
	replyInstructions = "Return only the email reply text. Do not use markdown."
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

type LLMClientDependencies struct {
	Router    *ai.ModelRouter
	Generator ai.TextGenerator
	Cache     *cache.AnalysisCache
	Validator *quality.OutputValidator
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// LLMClient implements Client on top of a text generation provider.
// Sentiment and extraction results are cached by content; drafts are not, so
// regenerating a reply always asks the model again.
type LLMClient struct {
	router    *ai.ModelRouter
	generator ai.TextGenerator
	cache     *cache.AnalysisCache
	validator *quality.OutputValidator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewLLMClient(deps LLMClientDependencies) *LLMClient {
	if deps.Router == nil {
		deps.Router = ai.NewModelRouter(ai.ModelRouterConfig{})
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewAnalysisCache(cache.Config{})
	}
	if deps.Validator == nil {
		deps.Validator = quality.NewOutputValidator()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &LLMClient{
		router:    deps.Router,
		generator: deps.Generator,
		cache:     deps.Cache,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		logger:    deps.Logger.Named("enrichment"),
	}
}

func (c *LLMClient) ClassifySentiment(ctx context.Context, text string) (domain.SentimentAnalysis, error) {
	signature := cache.BuildSignature(string(ai.TaskSentiment), sentimentPrompt, text)
	if cached, ok := c.cache.Get(signature); ok {
		var analysis domain.SentimentAnalysis
		if err := json.Unmarshal(cached.Value, &analysis); err == nil && analysis.Sentiment.Valid() {
			return analysis, nil
		}
	}

	prompt, err := renderPrompt(sentimentPrompt, map[string]any{
		"Text": excerpt.Build(text, excerpt.SentimentBudget).Text,
	})
	if err != nil {
		return domain.SentimentAnalysis{}, err
	}
	output, modelID, err := c.generateText(ctx, ai.TaskSentiment, jsonInstructions, prompt)
	if err != nil {
		return domain.SentimentAnalysis{}, fmt.Errorf("classify sentiment: %w", err)
	}

	rawJSON, err := extractJSON(output)
	if err != nil {
		c.logParseFailure(ai.TaskSentiment, output, err)
		return domain.SentimentAnalysis{}, fmt.Errorf("classify sentiment: %w", err)
	}
	var raw quality.RawSentiment
	if err := json.Unmarshal(rawJSON, &raw); err != nil {
		c.logParseFailure(ai.TaskSentiment, output, err)
		return domain.SentimentAnalysis{}, fmt.Errorf("decode sentiment: %w", err)
	}
	analysis, err := c.validator.ValidateSentiment(raw)
	if err != nil {
		return domain.SentimentAnalysis{}, err
	}

	c.store(signature, analysis, modelID, sentimentPrompt)
	return analysis, nil
}

func (c *LLMClient) ExtractFields(ctx context.Context, message Message) (domain.ExtractedInfo, error) {
	signature := cache.BuildSignature(string(ai.TaskExtraction), extractionPrompt, message.Sender, message.Subject, message.Body)
	if cached, ok := c.cache.Get(signature); ok {
		var info domain.ExtractedInfo
		if err := json.Unmarshal(cached.Value, &info); err == nil {
			return info, nil
		}
	}

	prompt, err := renderPrompt(extractionPrompt, map[string]any{
		"Sender":  message.Sender,
		"Subject": message.Subject,
		"Body":    excerpt.Build(message.Body, excerpt.ExtractionBudget).Text,
	})
	if err != nil {
		return domain.ExtractedInfo{}, err
	}
	output, modelID, err := c.generateText(ctx, ai.TaskExtraction, jsonInstructions, prompt)
	if err != nil {
		return domain.ExtractedInfo{}, fmt.Errorf("extract fields: %w", err)
	}

	rawJSON, err := extractJSON(output)
	if err != nil {
		c.logParseFailure(ai.TaskExtraction, output, err)
		return domain.ExtractedInfo{}, fmt.Errorf("extract fields: %w", err)
	}
	var raw domain.ExtractedInfo
	if err := json.Unmarshal(rawJSON, &raw); err != nil {
		c.logParseFailure(ai.TaskExtraction, output, err)
		return domain.ExtractedInfo{}, fmt.Errorf("decode extraction: %w", err)
	}
	info, err := c.validator.ValidateExtraction(raw)
	if err != nil {
		return domain.ExtractedInfo{}, err
	}

	c.store(signature, info, modelID, extractionPrompt)
	return info, nil
}

func (c *LLMClient) DraftResponse(ctx context.Context, input DraftInput) (string, error) {
	extracted, err := json.Marshal(input.Extracted)
	if err != nil {
		return "", fmt.Errorf("encode extracted info: %w", err)
	}
	prompt, err := renderPrompt(replyPrompt, map[string]any{
		"Tone":          ToneFor(input.Sentiment.Sentiment),
		"Sender":        input.Message.Sender,
		"Subject":       input.Message.Subject,
		"Body":          excerpt.Build(input.Message.Body, excerpt.ReplyBudget).Text,
		"ExtractedJSON": string(extracted),
		"Sentiment":     string(input.Sentiment.Sentiment),
		"Score":         input.Sentiment.Score,
	})
	if err != nil {
		return "", err
	}

	output, _, err := c.generateText(ctx, ai.TaskReply, replyInstructions, prompt)
	if err != nil {
		return "", fmt.Errorf("draft response: %w", err)
	}
	return c.validator.ValidateReply(stripCodeFence(output))
}

// generateText tries the task's primary model, then its fallback model.
func (c *LLMClient) generateText(
	ctx context.Context,
	task ai.TaskKind,
	instructions string,
	prompt string,
) (string, string, error) {
	if c.generator == nil || !c.generator.Available() {
		return "", "", ai.ErrProviderUnavailable
	}
	profile := c.router.Select(task)

	request := ai.GenerateRequest{
		Model:           profile.PrimaryModel,
		Instructions:    instructions,
		Input:           prompt,
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
		JSONMode:        profile.JSONMode,
	}
	primary, err := c.generator.Generate(ctx, request)
	if err == nil {
		c.metrics.CountTokens(string(task), primary.Usage.InputTokens, primary.Usage.OutputTokens)
		return primary.Text, firstNonEmpty(primary.ModelID, profile.PrimaryModel), nil
	}

	if strings.TrimSpace(profile.FallbackModel) == "" || profile.FallbackModel == profile.PrimaryModel {
		return "", "", err
	}
	if ctx.Err() != nil {
		return "", "", err
	}
	c.logger.Debug("primary model failed, trying fallback",
		zap.String("capability", string(task)),
		zap.String("model", profile.PrimaryModel),
		zap.Error(err),
	)

	request.Model = profile.FallbackModel
	fallback, fallbackErr := c.generator.Generate(ctx, request)
	if fallbackErr != nil {
		return "", "", fmt.Errorf("primary model failed: %v; fallback failed: %w", err, fallbackErr)
	}
	c.metrics.CountTokens(string(task), fallback.Usage.InputTokens, fallback.Usage.OutputTokens)
	return fallback.Text, firstNonEmpty(fallback.ModelID, profile.FallbackModel), nil
}

func (c *LLMClient) store(signature string, value any, modelID, promptVersion string) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.cache.Set(signature, cache.Entry{
		Value:         encoded,
		ModelID:       modelID,
		PromptVersion: promptVersion,
	})
}

func (c *LLMClient) logParseFailure(task ai.TaskKind, output string, err error) {
	c.logger.Warn("model output could not be parsed",
		zap.String("capability", string(task)),
		zap.ByteString("output", policy.MaskPIIJSON(json.RawMessage(truncate(output, 400)))),
		zap.Error(err),
	)
}

func renderPrompt(name string, data any) (string, error) {
	buffer := bytes.NewBuffer(nil)
	if err := prompts.ExecuteTemplate(buffer, name+".tmpl", data); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buffer.String(), nil
}

func extractJSON(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, errors.New("empty model output")
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = stripCodeFence(trimmed)
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
		return []byte(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if err := json.Unmarshal([]byte(candidate), &decoded); err == nil {
			return []byte(candidate), nil
		}
	}

	return nil, errors.New("model output is not valid JSON")
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimPrefix(trimmed, "json")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// truncate cuts value to at most maxLen bytes without splitting a rune.
func truncate(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
