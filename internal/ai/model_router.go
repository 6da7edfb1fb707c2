package ai

import "strings"

type TaskKind string

const (
	TaskSentiment  TaskKind = "sentiment"
	TaskExtraction TaskKind = "extraction"
	TaskReply      TaskKind = "reply"
)

type ModelProfile struct {
	PrimaryModel    string
	FallbackModel   string
	Temperature     float64
	MaxOutputTokens int
	JSONMode        bool
}

type ModelRouterConfig struct {
	SentimentPrimary  string
	SentimentFallback string

	ExtractionPrimary  string
	ExtractionFallback string

	ReplyPrimary  string
	ReplyFallback string
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.SentimentPrimary) == "" {
		config.SentimentPrimary = "gpt-4o-mini"
	}
	if strings.TrimSpace(config.SentimentFallback) == "" {
		config.SentimentFallback = "gpt-4.1-nano"
	}
	if strings.TrimSpace(config.ExtractionPrimary) == "" {
		config.ExtractionPrimary = "gpt-4o-mini"
	}
	if strings.TrimSpace(config.ExtractionFallback) == "" {
		config.ExtractionFallback = "gpt-4.1-nano"
	}
	if strings.TrimSpace(config.ReplyPrimary) == "" {
		config.ReplyPrimary = "gpt-4o"
	}
	if strings.TrimSpace(config.ReplyFallback) == "" {
		config.ReplyFallback = "gpt-4o-mini"
	}

	return &ModelRouter{config: config}
}

// Select returns the model profile for a task. Sentiment and extraction are
// classification-style calls and run cold; drafting gets more room.
func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskSentiment:
		return ModelProfile{
			PrimaryModel:    r.config.SentimentPrimary,
			FallbackModel:   r.config.SentimentFallback,
			Temperature:     0.1,
			MaxOutputTokens: 150,
			JSONMode:        true,
		}
	case TaskExtraction:
		return ModelProfile{
			PrimaryModel:    r.config.ExtractionPrimary,
			FallbackModel:   r.config.ExtractionFallback,
			Temperature:     0.1,
			MaxOutputTokens: 400,
			JSONMode:        true,
		}
	case TaskReply:
		return ModelProfile{
			PrimaryModel:    r.config.ReplyPrimary,
			FallbackModel:   r.config.ReplyFallback,
			Temperature:     0.7,
			MaxOutputTokens: 500,
		}
	default:
		return ModelProfile{
			PrimaryModel:    r.config.ExtractionPrimary,
			FallbackModel:   r.config.ExtractionFallback,
			Temperature:     0.2,
			MaxOutputTokens: 400,
			JSONMode:        true,
		}
	}
}
