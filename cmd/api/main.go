package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/support-inbox-back/internal/ai"
	"github.com/iago/support-inbox-back/internal/cache"
	"github.com/iago/support-inbox-back/internal/config"
	"github.com/iago/support-inbox-back/internal/enrichment"
	httpserver "github.com/iago/support-inbox-back/internal/http"
	"github.com/iago/support-inbox-back/internal/http/handlers"
	"github.com/iago/support-inbox-back/internal/logger"
	"github.com/iago/support-inbox-back/internal/metrics"
	"github.com/iago/support-inbox-back/internal/pipeline"
	"github.com/iago/support-inbox-back/internal/queue"
	"github.com/iago/support-inbox-back/internal/repository"
	"github.com/iago/support-inbox-back/internal/seed"
	"github.com/iago/support-inbox-back/internal/service"
	"github.com/iago/support-inbox-back/internal/worker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
		File:        cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("api stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	repo, repoCloser := setupRepository(ctx, cfg, log)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, log)
	defer queueCloser()

	client := enrichment.NewLLMClient(enrichment.LLMClientDependencies{
		Router: ai.NewModelRouter(ai.ModelRouterConfig{
			SentimentPrimary:   cfg.ModelSentimentPrimary,
			SentimentFallback:  cfg.ModelSentimentFallback,
			ExtractionPrimary:  cfg.ModelExtractionPrimary,
			ExtractionFallback: cfg.ModelExtractionFallback,
			ReplyPrimary:       cfg.ModelReplyPrimary,
			ReplyFallback:      cfg.ModelReplyFallback,
		}),
		Generator: ai.NewPaced(setupGenerator(cfg, log), cfg.LLMRPS, cfg.LLMBurst),
		Cache: cache.NewAnalysisCache(cache.Config{
			TTL:        cfg.AnalysisCacheTTL(),
			MaxEntries: cfg.AnalysisCacheMaxEntries,
		}),
		Metrics: m,
		Logger:  log,
	})

	orchestrator := pipeline.NewOrchestrator(pipeline.OrchestratorDependencies{
		Store:   repo,
		Client:  client,
		Metrics: m,
		Logger:  log,
		Timeout: cfg.EnrichTimeout(),
	})
	scheduler := pipeline.NewScheduler(repo, orchestrator, m, log, pipeline.SchedulerConfig{
		BatchSize:     cfg.EnrichBatchSize,
		BatchInterval: cfg.EnrichBatchInterval(),
		IncludeFailed: cfg.EnrichRetryFailed,
	})

	emails := service.NewEmailsService(service.EmailsServiceDependencies{
		Repo:     repo,
		Producer: producer,
		Pipeline: orchestrator,
		Stats:    pipeline.NewStatsAggregator(repo, nil),
		Metrics:  m,
		Logger:   log,
	})

	if cfg.SeedCSVPath != "" {
		if _, err := seed.LoadFile(ctx, cfg.SeedCSVPath, emails, log); err != nil {
			log.Warn("seed dataset not loaded", zap.String("path", cfg.SeedCSVPath), zap.Error(err))
		}
	}

	handler := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            handlers.NewAPI(emails, log),
		Metrics:        m,
		Logger:         log,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Synchronous /process calls run three model calls in a row.
		WriteTimeout: cfg.EnrichTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("api listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(consumer, orchestrator, scheduler, m, log)
		group.Go(func() error {
			processor.Start(groupCtx)
			return nil
		})
		log.Info("worker enabled and started")
	} else {
		log.Info("worker disabled by configuration")
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	return group.Wait()
}

func setupGenerator(cfg config.Config, log *zap.Logger) ai.TextGenerator {
	if cfg.ProviderAPIKey() == "" {
		log.Warn("no provider API key configured, enrichment will use fallbacks",
			zap.String("provider", cfg.LLMProvider),
		)
	}
	if cfg.LLMProvider == "openrouter" {
		return ai.NewOpenRouterClient(ai.OpenRouterClientConfig{
			APIKey:     cfg.OpenRouterAPIKey,
			BaseURL:    cfg.OpenRouterBaseURL,
			Timeout:    cfg.ProviderTimeout(),
			MaxRetries: cfg.OpenAIMaxRetries,
			SiteURL:    cfg.OpenRouterSiteURL,
			AppName:    cfg.OpenRouterAppName,
		})
	}
	return ai.NewOpenAIClient(ai.OpenAIClientConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Timeout:    cfg.ProviderTimeout(),
		MaxRetries: cfg.OpenAIMaxRetries,
	})
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	log *zap.Logger,
) (repository.EmailRepository, func()) {
	if cfg.DatabaseURL == "" {
		log.Info("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryEmailRepository(), func() {}
	}

	pgRepo, err := repository.NewPostgresEmailRepository(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Warn("failed to initialize postgres repository, fallback to memory", zap.Error(err))
		return repository.NewMemoryEmailRepository(), func() {}
	}
	log.Info("postgres repository initialized")
	return pgRepo, pgRepo.Close
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	log *zap.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not configured, using local queue")
		local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, log)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: cfg.QueueMaxAttempts,
	}, log)
	if err != nil {
		log.Warn("failed to initialize redis streams queue, fallback to local", zap.Error(err))
		local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, log)
		return local, local, func() {}
	}
	log.Info("redis streams queue initialized", zap.String("stream", cfg.RedisStream))
	return streams, streams, func() { _ = streams.Close() }
}
