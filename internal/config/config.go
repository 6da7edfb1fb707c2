package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port string

	AuthToken   string
	CORSOrigins []string

	DatabaseURL string

	LLMProvider string
	LLMRPS      float64
	LLMBurst    int

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAITimeoutMS  int
	OpenAIMaxRetries int

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterSiteURL string
	OpenRouterAppName string

	ModelSentimentPrimary   string
	ModelSentimentFallback  string
	ModelExtractionPrimary  string
	ModelExtractionFallback string
	ModelReplyPrimary       string
	ModelReplyFallback      string

	EnrichBatchSize       int
	EnrichBatchIntervalMS int
	EnrichTimeoutMS       int
	EnrichRetryFailed     bool

	AnalysisCacheTTLSeconds int
	AnalysisCacheMaxEntries int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisStream   string
	RedisDLQ      string
	RedisGroup    string
	RedisConsumer string

	QueueMaxAttempts int

	RateLimitRPS   float64
	RateLimitBurst int

	SeedCSVPath string

	LogLevel       string
	LogDevelopment bool
	LogFile        string

	WorkerEnabled bool
}

// Load reads .env files (process environment wins) and then the environment.
func Load(dotenvPaths ...string) (Config, error) {
	if len(dotenvPaths) == 0 {
		dotenvPaths = []string{".env", ".env.local"}
	}
	for _, path := range dotenvPaths {
		// Missing files are expected outside local development.
		_ = godotenv.Load(path)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Port: v.GetString("PORT"),

		AuthToken:   v.GetString("API_AUTH_TOKEN"),
		CORSOrigins: parseList(v.GetString("CORS_ALLOWED_ORIGINS")),

		DatabaseURL: v.GetString("DATABASE_URL"),

		LLMProvider: strings.ToLower(strings.TrimSpace(v.GetString("LLM_PROVIDER"))),
		LLMRPS:      v.GetFloat64("LLM_RPS"),
		LLMBurst:    v.GetInt("LLM_BURST"),

		OpenAIAPIKey:     v.GetString("OPENAI_API_KEY"),
		OpenAIBaseURL:    v.GetString("OPENAI_BASE_URL"),
		OpenAITimeoutMS:  v.GetInt("OPENAI_TIMEOUT_MS"),
		OpenAIMaxRetries: v.GetInt("OPENAI_MAX_RETRIES"),

		OpenRouterAPIKey:  v.GetString("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: v.GetString("OPENROUTER_BASE_URL"),
		OpenRouterSiteURL: v.GetString("OPENROUTER_SITE_URL"),
		OpenRouterAppName: v.GetString("OPENROUTER_APP_NAME"),

		ModelSentimentPrimary:   v.GetString("MODEL_SENTIMENT_PRIMARY"),
		ModelSentimentFallback:  v.GetString("MODEL_SENTIMENT_FALLBACK"),
		ModelExtractionPrimary:  v.GetString("MODEL_EXTRACTION_PRIMARY"),
		ModelExtractionFallback: v.GetString("MODEL_EXTRACTION_FALLBACK"),
		ModelReplyPrimary:       v.GetString("MODEL_REPLY_PRIMARY"),
		ModelReplyFallback:      v.GetString("MODEL_REPLY_FALLBACK"),

		EnrichBatchSize:       v.GetInt("ENRICH_BATCH_SIZE"),
		EnrichBatchIntervalMS: v.GetInt("ENRICH_BATCH_INTERVAL_MS"),
		EnrichTimeoutMS:       v.GetInt("ENRICH_TIMEOUT_MS"),
		EnrichRetryFailed:     v.GetBool("ENRICH_RETRY_FAILED"),

		AnalysisCacheTTLSeconds: v.GetInt("ANALYSIS_CACHE_TTL_SECONDS"),
		AnalysisCacheMaxEntries: v.GetInt("ANALYSIS_CACHE_MAX_ENTRIES"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),
		RedisStream:   v.GetString("REDIS_STREAM"),
		RedisDLQ:      v.GetString("REDIS_DLQ_STREAM"),
		RedisGroup:    v.GetString("REDIS_GROUP"),
		RedisConsumer: v.GetString("REDIS_CONSUMER"),

		QueueMaxAttempts: v.GetInt("QUEUE_MAX_ATTEMPTS"),

		RateLimitRPS:   v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst: v.GetInt("RATE_LIMIT_BURST"),

		SeedCSVPath: v.GetString("SEED_CSV_PATH"),

		LogLevel:       v.GetString("LOG_LEVEL"),
		LogDevelopment: v.GetBool("LOG_DEVELOPMENT"),
		LogFile:        v.GetString("LOG_FILE"),

		WorkerEnabled: v.GetBool("WORKER_ENABLED"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("LLM_PROVIDER", "openai")
	v.SetDefault("LLM_RPS", 5)
	v.SetDefault("LLM_BURST", 3)

	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("OPENAI_TIMEOUT_MS", 15000)
	v.SetDefault("OPENAI_MAX_RETRIES", 2)

	v.SetDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	v.SetDefault("OPENROUTER_APP_NAME", "Support Inbox")

	v.SetDefault("MODEL_SENTIMENT_PRIMARY", "gpt-4o-mini")
	v.SetDefault("MODEL_SENTIMENT_FALLBACK", "gpt-4.1-nano")
	v.SetDefault("MODEL_EXTRACTION_PRIMARY", "gpt-4o-mini")
	v.SetDefault("MODEL_EXTRACTION_FALLBACK", "gpt-4.1-nano")
	v.SetDefault("MODEL_REPLY_PRIMARY", "gpt-4o")
	v.SetDefault("MODEL_REPLY_FALLBACK", "gpt-4o-mini")

	v.SetDefault("ENRICH_BATCH_SIZE", 3)
	v.SetDefault("ENRICH_BATCH_INTERVAL_MS", 1000)
	v.SetDefault("ENRICH_TIMEOUT_MS", 45000)
	v.SetDefault("ENRICH_RETRY_FAILED", false)

	v.SetDefault("ANALYSIS_CACHE_TTL_SECONDS", 1800)
	v.SetDefault("ANALYSIS_CACHE_MAX_ENTRIES", 2000)

	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_STREAM", "support_tasks")
	v.SetDefault("REDIS_DLQ_STREAM", "support_tasks_dlq")
	v.SetDefault("REDIS_GROUP", "support_workers")
	v.SetDefault("REDIS_CONSUMER", "api-1")
	v.SetDefault("QUEUE_MAX_ATTEMPTS", 3)

	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)

	v.SetDefault("WORKER_ENABLED", true)
}

// Validate rejects settings the API cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	switch c.LLMProvider {
	case "openai", "openrouter":
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be openai or openrouter, got %q", c.LLMProvider))
	}
	if c.EnrichBatchSize < 1 {
		errs = append(errs, errors.New("ENRICH_BATCH_SIZE must be at least 1"))
	}
	if c.EnrichBatchIntervalMS < 0 {
		errs = append(errs, errors.New("ENRICH_BATCH_INTERVAL_MS must not be negative"))
	}
	if c.EnrichTimeoutMS < 0 {
		errs = append(errs, errors.New("ENRICH_TIMEOUT_MS must not be negative"))
	}
	if c.LLMRPS < 0 {
		errs = append(errs, errors.New("LLM_RPS must not be negative"))
	}
	if c.RateLimitRPS < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS must not be negative"))
	}
	if c.QueueMaxAttempts < 1 {
		errs = append(errs, errors.New("QUEUE_MAX_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

// ProviderAPIKey returns the key for the configured provider.
func (c Config) ProviderAPIKey() string {
	if c.LLMProvider == "openrouter" {
		return c.OpenRouterAPIKey
	}
	return c.OpenAIAPIKey
}

func (c Config) EnrichBatchInterval() time.Duration {
	return time.Duration(c.EnrichBatchIntervalMS) * time.Millisecond
}

func (c Config) EnrichTimeout() time.Duration {
	return time.Duration(c.EnrichTimeoutMS) * time.Millisecond
}

func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.OpenAITimeoutMS) * time.Millisecond
}

func (c Config) AnalysisCacheTTL() time.Duration {
	return time.Duration(c.AnalysisCacheTTLSeconds) * time.Second
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
