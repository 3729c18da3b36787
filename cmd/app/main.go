package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/estevaoantuness/agentenaval/internal/cache"
	"github.com/estevaoantuness/agentenaval/internal/config"
	"github.com/estevaoantuness/agentenaval/internal/evolution"
	"github.com/estevaoantuness/agentenaval/internal/httpserver"
	"github.com/estevaoantuness/agentenaval/internal/llm"
	"github.com/estevaoantuness/agentenaval/internal/logging"
	"github.com/estevaoantuness/agentenaval/internal/metrics"
	"github.com/estevaoantuness/agentenaval/internal/region"
	"github.com/estevaoantuness/agentenaval/internal/repo"
	"github.com/estevaoantuness/agentenaval/internal/screening"
	"github.com/estevaoantuness/agentenaval/internal/wa"
	"github.com/estevaoantuness/agentenaval/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting agentenaval", "env", cfg.AppEnv)

	if cfg.PublicBaseURL != "" {
		webhookURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhook/evolution"
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", webhookURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	var repository repo.Repository
	if cfg.DatabaseURL != "" {
		repository, err = repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	} else {
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	}
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	var redisClient *cache.Redis
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
	}

	llmClient := llm.New(llm.Config{
		BaseURL:     cfg.OpenAIBaseURL,
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.OpenAIModel,
		MaxTokens:   cfg.OpenAIMaxTokens,
		Temperature: cfg.OpenAITemperature,
		Timeout:     cfg.OpenAITimeout,
	}, logger, metricRegistry)

	systemPrompt := llm.LoadSystemPrompt(cfg.PromptsDir, cfg.PromptVersion, logger)
	validator := region.New(cfg.EligibleRegions, cfg.InterestRegions)

	var locker screening.ContactLocker
	if redisClient != nil {
		locker = redisClient
	}
	engine := screening.New(repository, llmClient, validator, locker, metricRegistry, logger, screening.Config{
		SystemPrompt:  systemPrompt,
		HistoryLimit:  cfg.HistoryLimit,
		FollowUpDelay: cfg.FollowUpDelay,
	})

	handlers := httpserver.Handlers{}
	if cfg.EvolutionBaseURL != "" {
		evoClient := evolution.NewClient(evolution.Config{
			BaseURL:    cfg.EvolutionBaseURL,
			APIKey:     cfg.EvolutionAPIKey,
			InstanceID: cfg.EvolutionInstanceID,
			Timeout:    cfg.EvolutionTimeout,
		}, logger, metricRegistry)

		var limiter evolution.RateLimiter
		if redisClient != nil {
			limiter = redisClient
		}
		handlers.EvolutionWebhook = evolution.NewWebhookHandler(logger, metricRegistry, evolution.WebhookConfig{
			Secret:            cfg.WebhookSecret,
			RateLimitPerPhone: cfg.RateLimitPerPhone,
			RateLimitWindow:   cfg.RateLimitWindow,
		}, engine, evoClient, limiter)
	}

	if cfg.WhatsAppEnabled {
		waClient, err := wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()

		waClient.SetMessageProcessor(wa.NewScreeningProcessor(engine, waClient, logger))

		waCtx, waCancel := context.WithCancel(ctx)
		defer waCancel()
		go func() {
			if err := waClient.Start(waCtx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, handlers, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Repository: repository,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
