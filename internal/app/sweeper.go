package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"content-autopilot/internal/infra/cache"
	"content-autopilot/internal/infra/queue"
	"content-autopilot/internal/usecase/orchestrator"
)

const sweepLockKey = "sweep-lock"

// DueRunner выполняет один обход автоматизаций.
type DueRunner interface {
	RunDue(ctx context.Context) (orchestrator.SweepReport, error)
}

// Locker выполняет fn под распределённой блокировкой.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// TriggerSource отдаёт внеочередные запросы на обход.
type TriggerSource interface {
	Pop(ctx context.Context) (queue.SweepTrigger, error)
	Drain(ctx context.Context) (int, error)
}

// Sweeper периодически запускает обход и реагирует на триггеры из очереди.
// Locker и Triggers необязательны.
type Sweeper struct {
	runner   DueRunner
	locker   Locker
	triggers TriggerSource
	interval time.Duration
	lockTTL  time.Duration
	logger   zerolog.Logger
}

// NewSweeper создаёт планировщик обходов.
func NewSweeper(runner DueRunner, interval, lockTTL time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Sweeper{
		runner:   runner,
		interval: interval,
		lockTTL:  lockTTL,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// WithLocker включает блокировку, чтобы несколько реплик не обходили одновременно.
func (s *Sweeper) WithLocker(l Locker) *Sweeper {
	s.locker = l
	return s
}

// WithTriggers подключает очередь внеочередных обходов.
func (s *Sweeper) WithTriggers(t TriggerSource) *Sweeper {
	s.triggers = t
	return s
}

// SweepOnce выполняет один обход. Занятая блокировка не считается ошибкой.
func (s *Sweeper) SweepOnce(ctx context.Context, source string) error {
	run := func(ctx context.Context) error {
		report, err := s.runner.RunDue(ctx)
		if err != nil {
			return err
		}
		s.logger.Info().
			Str("source", source).
			Int("automations", report.Automations).
			Int("batches", len(report.Batches)).
			Int("errors", report.Errors).
			Dur("duration", report.CompletedAt.Sub(report.StartedAt)).
			Msg("scheduler: обход завершён")
		return nil
	}
	if s.locker == nil {
		return run(ctx)
	}
	err := s.locker.WithLock(ctx, sweepLockKey, s.lockTTL, run)
	if errors.Is(err, cache.ErrLocked) {
		s.logger.Debug().Str("source", source).Msg("scheduler: обход уже выполняется другим процессом")
		return nil
	}
	return err
}

// Run обходит каждые interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) error {
	triggered := make(chan queue.SweepTrigger)
	if s.triggers != nil {
		go s.listen(ctx, triggered)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler: старт")
	s.sweep(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler: остановка")
			return nil
		case <-ticker.C:
			s.sweep(ctx, "ticker")
		case trigger := <-triggered:
			if n, err := s.triggers.Drain(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("scheduler: не удалось очистить очередь триггеров")
			} else if n > 0 {
				s.logger.Debug().Int("merged", n).Msg("scheduler: триггеры объединены в один обход")
			}
			s.sweep(ctx, trigger.Source)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, source string) {
	if err := s.SweepOnce(ctx, source); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Str("source", source).Msg("scheduler: ошибка обхода")
	}
}

func (s *Sweeper) listen(ctx context.Context, out chan<- queue.SweepTrigger) {
	for {
		trigger, err := s.triggers.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Msg("scheduler: ошибка чтения очереди триггеров")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case out <- trigger:
		case <-ctx.Done():
			return
		}
	}
}
