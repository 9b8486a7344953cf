package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coursehub/internal/api"
	"coursehub/internal/api/handlers"
	"coursehub/internal/api/middleware"
	"coursehub/internal/engine/webhooks"
	"coursehub/internal/pkg/logger"
	"coursehub/internal/platform/audit"
	"coursehub/internal/platform/auth"
	"coursehub/internal/platform/config"
	"coursehub/internal/platform/database"
	"coursehub/internal/platform/metrics"
	"coursehub/internal/platform/models"
	"coursehub/internal/platform/repositories"
	"coursehub/internal/platform/secrets"
	"coursehub/migrations"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging)
	config.Watch(*configPath, func(lc config.LoggingConfig) {
		logger.SetLevel(lc.Level)
		log.Info().Str("level", lc.Level).Msg("log level reloaded")
	})

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, migrations.FS); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	key, err := cfg.Webhooks.SecretKeyBytes()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid webhook secret key")
	}

	// Delivery pipeline
	repo := repositories.NewWebhookRepository(db, secrets.NewBox(key))
	m := metrics.New()
	auditor := audit.NewLogger(db)
	executor := webhooks.NewExecutor(repo, m, webhooks.ExecutorConfig{
		Timeout:   cfg.Webhooks.Timeout,
		UserAgent: cfg.Webhooks.UserAgent,
	})
	dispatcher := webhooks.NewDispatcher(repo, executor, m, cfg.Webhooks.MaxConcurrency)
	service := webhooks.NewService(repo, dispatcher, auditor, models.RetryPolicy{
		Enabled:          cfg.Webhooks.DefaultRetry.Enabled,
		MaxAttempts:      cfg.Webhooks.DefaultRetry.MaxAttempts,
		BaseDelaySeconds: cfg.Webhooks.DefaultRetry.BaseDelaySeconds,
	})

	// Rate limiting
	probes := map[string]handlers.Pinger{}
	var limiter middleware.Limiter
	if cfg.RateLimit.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RateLimit.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid rate_limit.redis_url")
		}
		client := redis.NewClient(opts)
		defer client.Close()
		redisLimiter := middleware.NewRedisLimiter(client, "coursehub:ratelimit")
		probes["redis"] = redisLimiter
		limiter = redisLimiter
	} else {
		local := middleware.NewLocalLimiter()
		defer local.Stop()
		limiter = local
	}

	tokenSvc := auth.NewTokenService(cfg.JWT)

	router := api.NewRouter(&api.Dependencies{
		WebhookHandler: handlers.NewWebhookHandler(service),
		EventHandler:   handlers.NewEventHandler(service, auditor),
		HealthHandler:  handlers.NewHealthHandler(db, probes),
		MetricsHandler: handlers.NewMetricsHandler(m),
		AuthMiddleware: middleware.NewAuthMiddleware(tokenSvc),
		RateLimiter: middleware.NewRateLimiter(limiter, map[string]int{
			middleware.LimitAPIRead:  cfg.RateLimit.APIReadPerMinute,
			middleware.LimitAPIWrite: cfg.RateLimit.APIWritePerMinute,
			middleware.LimitEvents:   cfg.RateLimit.EventsPerMinute,
		}),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http shutdown incomplete")
	}
	// retry chains may still be waiting; whatever does not finish in time is dropped
	if err := dispatcher.Drain(ctx); err != nil {
		log.Warn().Err(err).Msg("abandoning in-flight webhook deliveries")
	}
	auditor.Wait()

	log.Info().Msg("server stopped")
}
