package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"content-autopilot/internal/app"
	"content-autopilot/internal/infra/config"
	"content-autopilot/internal/infra/log"
	"content-autopilot/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать сервисы")
	}
	defer components.Close()

	sweeper := app.NewSweeper(components.Orchestrator, cfg.Scheduler.Interval, cfg.Redis.LockTTL, logger)
	if components.Locks != nil {
		sweeper.WithLocker(components.Locks)
	}

	if cfg.Scheduler.RunOnce {
		if err := sweeper.SweepOnce(ctx, "run_once"); err != nil {
			logger.Error().Err(err).Msg("scheduler: обход завершился ошибкой")
			stop()
			components.Close()
			os.Exit(1)
		}
		return
	}

	if components.Sweeps != nil {
		sweeper.WithTriggers(components.Sweeps)
	}
	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	if err := sweeper.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("scheduler: остановлен с ошибкой")
	}
}
