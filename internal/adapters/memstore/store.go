package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"content-autopilot/internal/domain"
)

// Store реализует все репозитории в памяти под одной блокировкой.
type Store struct {
	mu           sync.Mutex
	seq          int64
	automations  map[int64]domain.Automation
	topicMaps    map[int64]domain.TopicMap
	articles     map[int64]domain.PlannedArticle
	accounts     map[int64]domain.CreditAccount
	reservations map[string]domain.Reservation
	batches      []domain.GenerationBatch
	now          func() time.Time
}

var (
	_ domain.AutomationRepo = (*Store)(nil)
	_ domain.TopicRepo      = (*Store)(nil)
	_ domain.ArticleRepo    = (*Store)(nil)
	_ domain.BatchRepo      = (*Store)(nil)
	_ domain.CreditStore    = (*Store)(nil)
)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		automations:  make(map[int64]domain.Automation),
		topicMaps:    make(map[int64]domain.TopicMap),
		articles:     make(map[int64]domain.PlannedArticle),
		accounts:     make(map[int64]domain.CreditAccount),
		reservations: make(map[string]domain.Reservation),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени для created_at и updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

// CreateAutomation сохраняет автоматизацию.
func (s *Store) CreateAutomation(_ context.Context, a domain.Automation) (domain.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}
	a.UpdatedAt = a.CreatedAt
	s.automations[a.ID] = a
	return a, nil
}

// GetAutomation возвращает автоматизацию по идентификатору.
func (s *Store) GetAutomation(_ context.Context, id int64) (domain.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[id]
	if !ok {
		return domain.Automation{}, domain.ErrNotFound
	}
	return a, nil
}

// ListDueAutomations возвращает включённые автоматизации с наступившим запуском.
func (s *Store) ListDueAutomations(_ context.Context, now time.Time) ([]domain.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Automation
	for _, a := range s.automations {
		if a.IsDue(now) {
			out = append(out, a)
		}
	}
	sortAutomations(out)
	return out, nil
}

// ListAutomationsWithRetries возвращает включённые автоматизации с повторяемыми ошибками.
func (s *Store) ListAutomationsWithRetries(_ context.Context, maxRetries int) ([]domain.Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	withRetries := make(map[int64]bool)
	for _, art := range s.articles {
		if art.Status == domain.StatusFailed && art.RetryCount < maxRetries {
			withRetries[art.MapID] = true
		}
	}
	var out []domain.Automation
	for _, a := range s.automations {
		if a.Enabled && withRetries[a.TopicMapID] {
			out = append(out, a)
		}
	}
	sortAutomations(out)
	return out, nil
}

// UpdateCadence сохраняет новое правило и следующий запуск.
func (s *Store) UpdateCadence(_ context.Context, id int64, rule domain.CadenceRule, nextRunAt time.Time) error {
	return s.updateAutomation(id, func(a *domain.Automation) {
		a.Rule = rule
		a.Schedule.NextRunAt = nextRunAt
	})
}

// SetEnabled включает или выключает автоматизацию.
func (s *Store) SetEnabled(_ context.Context, id int64, enabled bool, nextRunAt time.Time) error {
	return s.updateAutomation(id, func(a *domain.Automation) {
		a.Enabled = enabled
		a.Schedule.NextRunAt = nextRunAt
	})
}

// UpdateSchedule сохраняет вычисленное расписание.
func (s *Store) UpdateSchedule(_ context.Context, id int64, state domain.ScheduleState) error {
	return s.updateAutomation(id, func(a *domain.Automation) {
		a.Schedule = state
	})
}

func (s *Store) updateAutomation(id int64, fn func(*domain.Automation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.automations[id]
	if !ok {
		return domain.ErrNotFound
	}
	fn(&a)
	a.UpdatedAt = s.now()
	s.automations[id] = a
	return nil
}

func sortAutomations(list []domain.Automation) {
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
}

// SaveBatch сохраняет журнал пакета.
func (s *Store) SaveBatch(_ context.Context, b domain.GenerationBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Items = append([]domain.BatchItemResult(nil), b.Items...)
	s.batches = append(s.batches, b)
	return nil
}

// Batches возвращает сохранённые пакеты в порядке записи.
func (s *Store) Batches() []domain.GenerationBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.GenerationBatch(nil), s.batches...)
}
