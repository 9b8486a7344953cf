package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"coursehub/internal/pkg/logger"
	"coursehub/internal/platform/config"
	"coursehub/internal/platform/database"
	"coursehub/internal/platform/metrics"
	"coursehub/internal/platform/repositories"
	"coursehub/internal/platform/secrets"
	"coursehub/internal/workers"

	"github.com/robfig/cron/v3"
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

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	key, err := cfg.Webhooks.SecretKeyBytes()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid webhook secret key")
	}
	repo := repositories.NewWebhookRepository(db, secrets.NewBox(key))
	m := metrics.New()

	c := cron.New()
	if err := workers.Schedule(c, cfg.Workers, repo, m); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule jobs")
	}

	srv := &http.Server{Addr: cfg.Workers.MetricsAddr, Handler: m.Handler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	c.Start()
	log.Info().
		Str("stats_schedule", cfg.Workers.StatsSchedule).
		Str("failing_schedule", cfg.Workers.FailingSchedule).
		Str("metrics_addr", cfg.Workers.MetricsAddr).
		Msg("workers started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx := c.Stop()
	<-ctx.Done()
	srv.Close()

	log.Info().Msg("workers stopped")
}
