package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
	"content-autopilot/internal/usecase/credits"
	"content-autopilot/internal/usecase/schedule"
)

const scheduleUpdateTimeout = 5 * time.Second

// Config задаёт ограничения обработки пакетов.
type Config struct {
	BatchSize         int
	Workers           int
	TenantParallelism int
	MaxRetries        int
	CreditCost        int64
	GenerateTimeout   time.Duration
	PublishTimeout    time.Duration
	// RefundOnFailure возвращает кредиты, если генерация или сохранение текста не удались.
	RefundOnFailure bool
}

// DefaultConfig возвращает значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		BatchSize:         5,
		Workers:           3,
		TenantParallelism: 4,
		MaxRetries:        3,
		CreditCost:        1,
		GenerateTimeout:   2 * time.Minute,
		PublishTimeout:    30 * time.Second,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.TenantParallelism <= 0 {
		c.TenantParallelism = def.TenantParallelism
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.CreditCost <= 0 {
		c.CreditCost = def.CreditCost
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = def.GenerateTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	return c
}

// CreditLedger резервирует и возвращает кредиты.
type CreditLedger interface {
	CheckAndReserve(ctx context.Context, projectID, articleID, cost int64) (credits.ReserveResult, error)
	Refund(ctx context.Context, reservationID string) (bool, error)
}

// TopicRefresher пополняет карту тем новыми статьями.
type TopicRefresher interface {
	Refresh(ctx context.Context, mapID int64, count int) (domain.TopicMapDelta, error)
}

// Deps содержит зависимости оркестратора. Planner, Publisher, Contents и Events необязательны.
type Deps struct {
	Automations domain.AutomationRepo
	Topics      domain.TopicRepo
	Articles    domain.ArticleRepo
	Batches     domain.BatchRepo
	Ledger      CreditLedger
	Planner     TopicRefresher
	Generator   domain.ContentGenerator
	Publisher   domain.Publisher
	Contents    domain.ContentStore
	Events      domain.EventPublisher
}

// Orchestrator выбирает статьи для генерации и проводит их по жизненному циклу.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New создаёт оркестратор.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg.normalized(),
		logger: logger.With().Str("component", "orchestrator").Logger(),
		tracer: otel.Tracer("content-autopilot/orchestrator"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// SweepReport описывает итог одного обхода.
type SweepReport struct {
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
	Automations int                      `json:"automations"`
	Batches     []domain.GenerationBatch `json:"batches"`
	Errors      int                      `json:"errors"`
}

type sweepTask struct {
	automation domain.Automation
	due        bool
}

// RunDue обрабатывает автоматизации с наступившим запуском и автоматизации с повторяемыми ошибками.
// Повторный вызов не списывает кредиты дважды: статью забирает только один обход.
func (o *Orchestrator) RunDue(ctx context.Context) (SweepReport, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.RunDue")
	defer span.End()

	report := SweepReport{StartedAt: o.now()}
	tasks, err := o.collectTasks(ctx, report.StartedAt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	report.Automations = len(tasks)
	metrics.SweepAutomations.Set(float64(len(tasks)))
	span.SetAttributes(attribute.Int("automations", len(tasks)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.TenantParallelism)
	for _, task := range tasks {
		g.Go(func() error {
			batch, err := o.RunAutomation(gctx, task.automation, task.due)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && !errors.Is(err, domain.ErrAutomationDisabled) {
				report.Errors++
				o.logger.Error().Err(err).Int64("automation_id", task.automation.ID).Msg("orchestrator: пакет завершился ошибкой")
			}
			if batch.ID != "" {
				report.Batches = append(report.Batches, batch)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Batches, func(i, j int) bool {
		return report.Batches[i].AutomationID < report.Batches[j].AutomationID
	})
	report.CompletedAt = o.now()
	o.logger.Info().
		Int("automations", report.Automations).
		Int("batches", len(report.Batches)).
		Int("errors", report.Errors).
		Msg("orchestrator: обход завершён")
	return report, nil
}

func (o *Orchestrator) collectTasks(ctx context.Context, now time.Time) ([]sweepTask, error) {
	due, err := o.deps.Automations.ListDueAutomations(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("выборка автоматизаций: %w", err)
	}
	retries, err := o.deps.Automations.ListAutomationsWithRetries(ctx, o.cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("выборка автоматизаций с повторами: %w", err)
	}

	seen := make(map[int64]bool, len(due))
	tasks := make([]sweepTask, 0, len(due)+len(retries))
	for _, a := range due {
		seen[a.ID] = true
		tasks = append(tasks, sweepTask{automation: a, due: true})
	}
	for _, a := range retries {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		tasks = append(tasks, sweepTask{automation: a, due: a.IsDue(now)})
	}
	return tasks, nil
}

// batchScope хранит общие для всех статей пакета данные.
type batchScope struct {
	automation domain.Automation
	batchID    string
	niche      string
	audience   string
}

// RunAutomation обрабатывает один пакет автоматизации. Для due-пакета расписание
// пересчитывается при любом исходе, включая ошибку выборки.
func (o *Orchestrator) RunAutomation(ctx context.Context, a domain.Automation, due bool) (domain.GenerationBatch, error) {
	batch := domain.GenerationBatch{
		ID:           uuid.NewString(),
		AutomationID: a.ID,
		ProjectID:    a.ProjectID,
		Due:          due,
		StartedAt:    o.now(),
	}
	ctx, span := o.tracer.Start(ctx, "orchestrator.RunAutomation", trace.WithAttributes(
		attribute.Int64("automation_id", a.ID),
		attribute.Int64("project_id", a.ProjectID),
		attribute.String("batch_id", batch.ID),
		attribute.Bool("due", due),
	))
	defer span.End()
	log := o.logger.With().Str("batch_id", batch.ID).Int64("automation_id", a.ID).Logger()

	current, err := o.deps.Automations.GetAutomation(ctx, a.ID)
	if err != nil {
		return domain.GenerationBatch{}, fmt.Errorf("получение автоматизации: %w", err)
	}
	if !current.Enabled {
		log.Info().Msg("orchestrator: автоматизация выключена, пропускаем")
		return domain.GenerationBatch{}, domain.ErrAutomationDisabled
	}
	if due {
		defer o.reschedule(ctx, current, log)
	}

	scope := batchScope{automation: current, batchID: batch.ID}
	if m, err := o.deps.Topics.GetTopicMap(ctx, current.TopicMapID); err == nil {
		scope.niche, scope.audience = m.Niche, m.Audience
	} else {
		log.Warn().Err(err).Msg("orchestrator: карта тем недоступна")
	}

	candidates, err := o.selectCandidates(ctx, current, due, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.finishBatch(ctx, &batch, log)
		return batch, err
	}
	for _, art := range candidates {
		batch.ArticleIDs = append(batch.ArticleIDs, art.ID)
	}

	results := make([]domain.BatchItemResult, len(candidates))
	var g errgroup.Group
	g.SetLimit(max(o.cfg.Workers, 1))
	for i := range candidates {
		g.Go(func() error {
			results[i] = o.safeProcess(ctx, scope, candidates[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		batch.Record(res)
		metrics.ObserveBatchItem(string(res.Outcome))
	}
	o.finishBatch(ctx, &batch, log)
	span.SetAttributes(
		attribute.Int("succeeded", batch.Succeeded),
		attribute.Int("failed", batch.Failed),
		attribute.Int("credit_blocked", batch.CreditBlocked),
	)
	return batch, nil
}

func (o *Orchestrator) selectCandidates(ctx context.Context, a domain.Automation, due bool, log zerolog.Logger) ([]domain.PlannedArticle, error) {
	limit := o.cfg.BatchSize
	if a.ArticlesPerRun > 0 && a.ArticlesPerRun < limit {
		limit = a.ArticlesPerRun
	}
	q := domain.CandidateQuery{
		MapID:          a.TopicMapID,
		IncludePlanned: due,
		MaxRetries:     o.cfg.MaxRetries,
		Limit:          limit,
	}
	candidates, err := o.deps.Articles.ListBatchCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("выборка статей: %w", err)
	}
	if len(candidates) > 0 || !due || !a.AutoRefresh || o.deps.Planner == nil {
		return candidates, nil
	}

	delta, err := o.deps.Planner.Refresh(ctx, a.TopicMapID, a.RefreshCount)
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: не удалось пополнить карту тем")
		return nil, nil
	}
	if delta.IsEmpty() {
		return nil, nil
	}
	log.Info().Int("articles", delta.ArticleCount()).Msg("orchestrator: карта тем пополнена")
	candidates, err = o.deps.Articles.ListBatchCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("выборка статей после пополнения: %w", err)
	}
	return candidates, nil
}

func (o *Orchestrator) finishBatch(ctx context.Context, batch *domain.GenerationBatch, log zerolog.Logger) {
	completed := o.now()
	batch.CompletedAt = &completed
	metrics.BatchDurationSeconds.Observe(completed.Sub(batch.StartedAt).Seconds())

	if o.deps.Batches != nil {
		if err := o.deps.Batches.SaveBatch(ctx, *batch); err != nil {
			log.Error().Err(err).Msg("orchestrator: не удалось сохранить журнал пакета")
		}
	}
	o.emit(ctx, domain.ArticleEvent{
		Type:         domain.EventBatchCompleted,
		ProjectID:    batch.ProjectID,
		AutomationID: batch.AutomationID,
		BatchID:      batch.ID,
		Metadata: map[string]any{
			"succeeded":      batch.Succeeded,
			"failed":         batch.Failed,
			"credit_blocked": batch.CreditBlocked,
			"skipped":        batch.Skipped,
		},
	})
	log.Info().
		Int("articles", len(batch.Items)).
		Int("succeeded", batch.Succeeded).
		Int("failed", batch.Failed).
		Int("credit_blocked", batch.CreditBlocked).
		Int("skipped", batch.Skipped).
		Msg("orchestrator: пакет обработан")
}

// reschedule вычисляет следующий запуск даже при отменённом контексте обхода.
func (o *Orchestrator) reschedule(ctx context.Context, a domain.Automation, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scheduleUpdateTimeout)
	defer cancel()
	now := o.now()
	state := domain.ScheduleState{NextRunAt: schedule.ComputeNextRun(a.Rule, now), LastRunAt: &now}
	if err := o.deps.Automations.UpdateSchedule(ctx, a.ID, state); err != nil {
		log.Error().Err(err).Msg("orchestrator: не удалось обновить расписание")
		return
	}
	log.Debug().Time("next_run_at", state.NextRunAt).Msg("orchestrator: расписание обновлено")
}

func (o *Orchestrator) emit(ctx context.Context, ev domain.ArticleEvent) {
	if o.deps.Events == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = o.now()
	}
	if err := o.deps.Events.PublishEvent(ctx, ev); err != nil {
		o.logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("orchestrator: событие не отправлено")
	}
}
