package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"content-autopilot/internal/domain"
)

// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
var ErrInvalidTimezone = errors.New("invalid timezone")

const (
	defaultArticlesPerRun = 1
	defaultRefreshCount   = 5
)

// AutomationInput описывает параметры новой автоматизации.
type AutomationInput struct {
	ProjectID      int64                `json:"project_id" validate:"required,gt=0"`
	TopicMapID     int64                `json:"topic_map_id" validate:"required,gt=0"`
	Rule           domain.CadenceRule   `json:"rule"`
	ArticlesPerRun int                  `json:"articles_per_run" validate:"omitempty,min=1,max=50"`
	AutoPublish    bool                 `json:"auto_publish"`
	Target         domain.PublishTarget `json:"target"`
	AutoRefresh    bool                 `json:"auto_refresh"`
	RefreshCount   int                  `json:"refresh_count" validate:"omitempty,min=1,max=20"`
}

// Service отвечает за настройку автоматизаций и их расписание.
type Service struct {
	automations domain.AutomationRepo
	validate    *validator.Validate
	now         func() time.Time
}

// NewService создаёт сервис.
func NewService(automations domain.AutomationRepo) *Service {
	return &Service{
		automations: automations,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateAutomation проверяет правило и сохраняет включённую автоматизацию с первым запуском.
func (s *Service) CreateAutomation(ctx context.Context, in AutomationInput) (domain.Automation, error) {
	rule, err := s.normalizeRule(in.Rule)
	if err != nil {
		return domain.Automation{}, err
	}
	in.Rule = rule
	if in.Target.Kind == "" {
		in.Target.Kind = domain.PublishTargetNone
	}
	if err := s.validate.Struct(in); err != nil {
		return domain.Automation{}, fmt.Errorf("%w: %v", domain.ErrInvalidCadence, err)
	}
	if in.AutoPublish && in.Target.Kind == domain.PublishTargetNone {
		return domain.Automation{}, fmt.Errorf("%w: автопубликация без площадки", domain.ErrInvalidCadence)
	}
	if in.ArticlesPerRun == 0 {
		in.ArticlesPerRun = defaultArticlesPerRun
	}
	if in.RefreshCount == 0 {
		in.RefreshCount = defaultRefreshCount
	}

	now := s.now()
	automation := domain.Automation{
		ProjectID:      in.ProjectID,
		TopicMapID:     in.TopicMapID,
		Enabled:        true,
		Rule:           rule,
		Schedule:       domain.ScheduleState{NextRunAt: ComputeNextRun(rule, now)},
		ArticlesPerRun: in.ArticlesPerRun,
		AutoPublish:    in.AutoPublish,
		Target:         in.Target,
		AutoRefresh:    in.AutoRefresh,
		RefreshCount:   in.RefreshCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	saved, err := s.automations.CreateAutomation(ctx, automation)
	if err != nil {
		return domain.Automation{}, fmt.Errorf("сохранение автоматизации: %w", err)
	}
	return saved, nil
}

// UpdateCadence меняет правило и пересчитывает следующий запуск.
func (s *Service) UpdateCadence(ctx context.Context, automationID int64, rule domain.CadenceRule) (domain.Automation, error) {
	normalized, err := s.normalizeRule(rule)
	if err != nil {
		return domain.Automation{}, err
	}
	automation, err := s.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return domain.Automation{}, fmt.Errorf("получение автоматизации: %w", err)
	}
	next := ComputeNextRun(normalized, s.now())
	if err := s.automations.UpdateCadence(ctx, automationID, normalized, next); err != nil {
		return domain.Automation{}, fmt.Errorf("обновление расписания: %w", err)
	}
	automation.Rule = normalized
	automation.Schedule.NextRunAt = next
	return automation, nil
}

// Enable включает автоматизацию; следующий запуск считается от текущего момента.
func (s *Service) Enable(ctx context.Context, automationID int64) (domain.Automation, error) {
	return s.setEnabled(ctx, automationID, true)
}

// Disable выключает автоматизацию. Статьи в generating завершатся, новые не выбираются.
func (s *Service) Disable(ctx context.Context, automationID int64) (domain.Automation, error) {
	return s.setEnabled(ctx, automationID, false)
}

func (s *Service) setEnabled(ctx context.Context, automationID int64, enabled bool) (domain.Automation, error) {
	automation, err := s.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return domain.Automation{}, fmt.Errorf("получение автоматизации: %w", err)
	}
	next := automation.Schedule.NextRunAt
	if enabled {
		next = ComputeNextRun(automation.Rule, s.now())
	}
	if err := s.automations.SetEnabled(ctx, automationID, enabled, next); err != nil {
		return domain.Automation{}, fmt.Errorf("смена состояния автоматизации: %w", err)
	}
	automation.Enabled = enabled
	automation.Schedule.NextRunAt = next
	return automation, nil
}

func (s *Service) normalizeRule(rule domain.CadenceRule) (domain.CadenceRule, error) {
	rule.Frequency = domain.Frequency(strings.ToLower(strings.TrimSpace(string(rule.Frequency))))
	rule.TimeOfDay = strings.TrimSpace(rule.TimeOfDay)
	if strings.TrimSpace(rule.Timezone) == "" {
		rule.Timezone = "UTC"
	} else {
		tz, err := normalizeTimezone(rule.Timezone)
		if err != nil {
			return domain.CadenceRule{}, fmt.Errorf("%w: %w", domain.ErrInvalidCadence, err)
		}
		rule.Timezone = tz
	}
	if err := s.validate.Struct(rule); err != nil {
		return domain.CadenceRule{}, fmt.Errorf("%w: %v", domain.ErrInvalidCadence, err)
	}
	return rule, nil
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.ReplaceAll(strings.TrimSpace(raw), " ", "_")
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	parts := strings.Split(strings.ToLower(candidate), "/")
	for i, part := range parts {
		parts[i] = titleJoin(part, "_", func(segment string) string {
			return titleJoin(segment, "-", capitalize)
		})
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}

func titleJoin(s, sep string, fn func(string) string) string {
	pieces := strings.Split(s, sep)
	for i, piece := range pieces {
		pieces[i] = fn(piece)
	}
	return strings.Join(pieces, sep)
}

func capitalize(piece string) string {
	if piece == "" {
		return piece
	}
	return strings.ToUpper(piece[:1]) + piece[1:]
}
