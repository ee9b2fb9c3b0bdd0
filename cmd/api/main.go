package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"content-autopilot/internal/app"
	"content-autopilot/internal/infra/config"
	httpinfra "content-autopilot/internal/infra/http"
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
		logger.Fatal().Err(err).Msg("api: не удалось собрать сервисы")
	}
	defer components.Close()

	if cfg.APIToken == "" {
		logger.Warn().Msg("api: API_TOKEN не задан, авторизация отключена")
	}

	deps := httpinfra.APIDeps{
		Automations: components.Schedule,
		Planner:     components.Planner,
		Credits:     components.Ledger,
		Runner:      components.Orchestrator,
		Reader:      components.Store,
	}
	if components.Sweeps != nil {
		deps.Sweeps = components.Sweeps
	}

	srv := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	httpinfra.NewAPI(deps, logger).Mount(srv.Router, cfg.APIToken)

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)
	go func() {
		logger.Info().Int("port", cfg.Port).Msg("api: старт")
		if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("api: принудительная остановка")
	}
}
