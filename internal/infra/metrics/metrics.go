package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	BatchItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_items_total",
		Help: "Статьи, обработанные в пакетах, по исходу",
	}, []string{"outcome"})

	BatchDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_duration_seconds",
		Help:    "Длительность обработки пакета",
		Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
	})

	SweepAutomations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sweep_automations",
		Help: "Автоматизаций в последнем обходе",
	})

	CreditReservationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_reservations_total",
		Help: "Резервирования кредитов по результату",
	}, []string{"result"})

	CreditRefundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credit_refunds_total",
		Help: "Возвраты кредитов",
	})

	PlannerIdeasTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planner_ideas_total",
		Help: "Идеи планировщика по результату",
	}, []string{"result"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		BatchItemsTotal,
		BatchDurationSeconds,
		SweepAutomations,
		CreditReservationsTotal,
		CreditRefundsTotal,
		PlannerIdeasTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	labels := []string{orUnknown(component), orUnknown(operation), orUnknown(target), status}
	NetworkRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	NetworkRequestTotal.WithLabelValues(labels...).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens int) {
	model = orUnknown(model)
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// ObserveBatchItem учитывает исход обработки статьи.
func ObserveBatchItem(outcome string) {
	BatchItemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReservation учитывает результат резервирования: granted, denied, unlimited или error.
func ObserveReservation(result string) {
	CreditReservationsTotal.WithLabelValues(result).Inc()
}

// ObservePlannerIdeas учитывает принятые и отброшенные идеи.
func ObservePlannerIdeas(result string, n int) {
	if n <= 0 {
		return
	}
	PlannerIdeasTotal.WithLabelValues(result).Add(float64(n))
}

func orUnknown(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
