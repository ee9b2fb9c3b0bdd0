package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.AutomationRepo = (*Postgres)(nil)
	_ domain.TopicRepo      = (*Postgres)(nil)
	_ domain.ArticleRepo    = (*Postgres)(nil)
	_ domain.BatchRepo      = (*Postgres)(nil)
	_ domain.CreditStore    = (*Postgres)(nil)
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const automationColumns = `id, project_id, topic_map_id, enabled, frequency, time_of_day, day_of_week, day_of_month, timezone,
next_run_at, last_run_at, articles_per_run, auto_publish, target_kind, target_dest, auto_refresh, refresh_count, created_at, updated_at`

func scanAutomation(row rowScanner) (domain.Automation, error) {
	var (
		a         domain.Automation
		frequency string
		kind      string
	)
	err := row.Scan(&a.ID, &a.ProjectID, &a.TopicMapID, &a.Enabled, &frequency, &a.Rule.TimeOfDay, &a.Rule.DayOfWeek, &a.Rule.DayOfMonth, &a.Rule.Timezone,
		&a.Schedule.NextRunAt, &a.Schedule.LastRunAt, &a.ArticlesPerRun, &a.AutoPublish, &kind, &a.Target.Destination, &a.AutoRefresh, &a.RefreshCount, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.Automation{}, err
	}
	a.Rule.Frequency = domain.Frequency(frequency)
	a.Target.Kind = domain.PublishTargetKind(kind)
	return a, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// CreateAutomation сохраняет автоматизацию.
func (p *Postgres) CreateAutomation(ctx context.Context, a domain.Automation) (domain.Automation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO automations (project_id, topic_map_id, enabled, frequency, time_of_day, day_of_week, day_of_month, timezone,
  next_run_at, last_run_at, articles_per_run, auto_publish, target_kind, target_dest, auto_refresh, refresh_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
RETURNING `+automationColumns,
		a.ProjectID, a.TopicMapID, a.Enabled, string(a.Rule.Frequency), a.Rule.TimeOfDay, a.Rule.DayOfWeek, a.Rule.DayOfMonth, a.Rule.Timezone,
		a.Schedule.NextRunAt, a.Schedule.LastRunAt, a.ArticlesPerRun, a.AutoPublish, string(a.Target.Kind), a.Target.Destination, a.AutoRefresh, a.RefreshCount)
	created, err := scanAutomation(row)
	metrics.ObserveNetworkRequest("postgres", "automations_insert", "automations", start, err)
	return created, err
}

// GetAutomation возвращает автоматизацию по идентификатору.
func (p *Postgres) GetAutomation(ctx context.Context, id int64) (domain.Automation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	a, err := scanAutomation(p.pool.QueryRow(ctx, `SELECT `+automationColumns+` FROM automations WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "automations_get", "automations", start, err)
	if err != nil {
		return domain.Automation{}, notFound(err)
	}
	return a, nil
}

// ListDueAutomations возвращает включённые автоматизации с наступившим запуском.
func (p *Postgres) ListDueAutomations(ctx context.Context, now time.Time) ([]domain.Automation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+automationColumns+`
FROM automations
WHERE enabled AND next_run_at <= $1
ORDER BY id
`, now)
	metrics.ObserveNetworkRequest("postgres", "automations_list_due", "automations", start, err)
	if err != nil {
		return nil, err
	}
	return collectAutomations(rows)
}

// ListAutomationsWithRetries возвращает автоматизации с неисчерпанными повторами.
func (p *Postgres) ListAutomationsWithRetries(ctx context.Context, maxRetries int) ([]domain.Automation, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+automationColumns+`
FROM automations a
WHERE a.enabled AND EXISTS (
  SELECT 1 FROM planned_articles pa
  WHERE pa.map_id = a.topic_map_id AND pa.status = 'failed' AND pa.retry_count < $1
)
ORDER BY a.id
`, maxRetries)
	metrics.ObserveNetworkRequest("postgres", "automations_list_retries", "automations", start, err)
	if err != nil {
		return nil, err
	}
	return collectAutomations(rows)
}

func collectAutomations(rows pgx.Rows) ([]domain.Automation, error) {
	defer rows.Close()
	var out []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateCadence меняет правило и следующий запуск.
func (p *Postgres) UpdateCadence(ctx context.Context, id int64, rule domain.CadenceRule, nextRunAt time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE automations
SET frequency = $2, time_of_day = $3, day_of_week = $4, day_of_month = $5, timezone = $6, next_run_at = $7, updated_at = now()
WHERE id = $1
`, id, string(rule.Frequency), rule.TimeOfDay, rule.DayOfWeek, rule.DayOfMonth, rule.Timezone, nextRunAt)
	metrics.ObserveNetworkRequest("postgres", "automations_update_cadence", "automations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetEnabled включает или выключает автоматизацию.
func (p *Postgres) SetEnabled(ctx context.Context, id int64, enabled bool, nextRunAt time.Time) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE automations
SET enabled = $2, next_run_at = CASE WHEN $2 THEN $3 ELSE next_run_at END, updated_at = now()
WHERE id = $1
`, id, enabled, nextRunAt)
	metrics.ObserveNetworkRequest("postgres", "automations_set_enabled", "automations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateSchedule сохраняет вычисленное расписание.
func (p *Postgres) UpdateSchedule(ctx context.Context, id int64, state domain.ScheduleState) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE automations
SET next_run_at = $2, last_run_at = COALESCE($3, last_run_at), updated_at = now()
WHERE id = $1
`, id, state.NextRunAt, state.LastRunAt)
	metrics.ObserveNetworkRequest("postgres", "automations_update_schedule", "automations", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveBatch сохраняет журнал пакета.
func (p *Postgres) SaveBatch(ctx context.Context, b domain.GenerationBatch) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("сериализация результатов пакета: %w", err)
	}
	ids := b.ArticleIDs
	if ids == nil {
		ids = []int64{}
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO generation_batches (id, automation_id, project_id, article_ids, due, started_at, completed_at, succeeded, failed, credit_blocked, skipped, items)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb)
ON CONFLICT (id) DO UPDATE SET completed_at = EXCLUDED.completed_at, succeeded = EXCLUDED.succeeded, failed = EXCLUDED.failed,
  credit_blocked = EXCLUDED.credit_blocked, skipped = EXCLUDED.skipped, items = EXCLUDED.items
`, b.ID, b.AutomationID, b.ProjectID, ids, b.Due, b.StartedAt, b.CompletedAt, b.Succeeded, b.Failed, b.CreditBlocked, b.Skipped, string(items))
	metrics.ObserveNetworkRequest("postgres", "generation_batches_upsert", "generation_batches", start, err)
	return err
}
