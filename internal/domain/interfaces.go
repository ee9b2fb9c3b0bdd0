package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound возвращается, когда запись не найдена.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition возвращается при недопустимой смене статуса.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrInvalidCadence возвращается для некорректного правила расписания.
	ErrInvalidCadence = errors.New("invalid cadence rule")

	// ErrInvalidNiche возвращается для некорректных параметров ниши.
	ErrInvalidNiche = errors.New("invalid niche input")

	// ErrInvalidCost возвращается для неположительной стоимости.
	ErrInvalidCost = errors.New("invalid credit cost")

	// ErrAutomationDisabled возвращается, когда автоматизация выключена.
	ErrAutomationDisabled = errors.New("automation disabled")

	// ErrNoIdeas возвращается, когда планировщику не из чего строить карту.
	ErrNoIdeas = errors.New("no topic ideas")

	// ErrCacheMiss возвращается кэшем при отсутствии ключа.
	ErrCacheMiss = errors.New("cache miss")
)

// AutomationRepo управляет автоматизациями и их расписанием.
type AutomationRepo interface {
	CreateAutomation(ctx context.Context, a Automation) (Automation, error)
	GetAutomation(ctx context.Context, id int64) (Automation, error)
	ListDueAutomations(ctx context.Context, now time.Time) ([]Automation, error)
	// ListAutomationsWithRetries возвращает включённые автоматизации, у которых есть
	// статьи в failed с неисчерпанным бюджетом повторов.
	ListAutomationsWithRetries(ctx context.Context, maxRetries int) ([]Automation, error)
	UpdateCadence(ctx context.Context, id int64, rule CadenceRule, nextRunAt time.Time) error
	SetEnabled(ctx context.Context, id int64, enabled bool, nextRunAt time.Time) error
	UpdateSchedule(ctx context.Context, id int64, state ScheduleState) error
}

// TopicRepo хранит иерархию тем. Удаление карты удаляет все её узлы.
type TopicRepo interface {
	CreateTopicMap(ctx context.Context, m TopicMap) (TopicMap, error)
	GetTopicMap(ctx context.Context, id int64) (TopicMap, error)
	GetTopicMapByProject(ctx context.Context, projectID int64) (TopicMap, error)
	// AppendArticles только добавляет статьи, существующие не изменяются.
	AppendArticles(ctx context.Context, mapID int64, articles []PlannedArticle) ([]PlannedArticle, error)
	DeleteTopicMap(ctx context.Context, id int64) error
}

// CandidateQuery задаёт выборку статей для пакета.
type CandidateQuery struct {
	MapID          int64
	IncludePlanned bool
	MaxRetries     int
	Limit          int
}

// ArticleRepo управляет статусами запланированных статей.
type ArticleRepo interface {
	GetArticle(ctx context.Context, id int64) (PlannedArticle, error)
	// ListBatchCandidates сортирует по priority DESC, created_at ASC.
	ListBatchCandidates(ctx context.Context, q CandidateQuery) ([]PlannedArticle, error)
	// TransitionArticle применяет переход, только если текущий статус равен from.
	// false без ошибки означает, что статус уже изменил кто-то другой.
	// При from == to статус не меняется, обновляются только поля upd.
	TransitionArticle(ctx context.Context, id int64, from, to ArticleStatus, upd ArticleUpdate) (bool, error)
}

// BatchRepo сохраняет журнал пакетов.
type BatchRepo interface {
	SaveBatch(ctx context.Context, b GenerationBatch) error
}

// ReservationRequest содержит параметры резервирования.
type ReservationRequest struct {
	ID        string
	ProjectID int64
	ArticleID int64
	Cost      int64
	At        time.Time
}

// CreditStore хранит кредиты и атомарно проверяет и списывает их.
type CreditStore interface {
	GetCreditAccount(ctx context.Context, projectID int64) (CreditAccount, error)
	// ReserveCredits атомарно проверяет и списывает стоимость.
	// false без ошибки означает отказ без изменений счёта.
	ReserveCredits(ctx context.Context, req ReservationRequest) (Reservation, bool, error)
	// RefundReservation возвращает кредиты; повторный вызов возвращает false.
	RefundReservation(ctx context.Context, reservationID string, at time.Time) (Reservation, bool, error)
	AddCredits(ctx context.Context, projectID int64, pool CreditPool, amount int64, purchased bool) (CreditAccount, error)
	SetSubscriptionBalance(ctx context.Context, projectID int64, amount int64) (CreditAccount, error)
	SetUnlimited(ctx context.Context, projectID int64, unlimited bool) (CreditAccount, error)
}

// ResearchScope определяет уровень иерархии, для которого нужны идеи.
type ResearchScope string

const (
	ResearchPillars   ResearchScope = "pillars"
	ResearchSubtopics ResearchScope = "subtopics"
	ResearchArticles  ResearchScope = "articles"
	ResearchInsights  ResearchScope = "insights"
)

// ResearchRequest описывает запрос идей к исследователю тем.
// Seed задаёт родительскую тему для подтем и статей.
type ResearchRequest struct {
	Scope    ResearchScope
	Niche    string
	Audience string
	Seed     string
	Keywords []string
	Count    int
}

// TopicIdea описывает идею статьи с метриками ключевого слова.
type TopicIdea struct {
	Title             string         `json:"title"`
	Keyword           string         `json:"keyword"`
	SecondaryKeywords []string       `json:"secondary_keywords"`
	Metrics           KeywordMetrics `json:"metrics"`
	Trending          bool           `json:"trending"`
	CompetitorGap     bool           `json:"competitor_gap"`
}

// TopicResearcher подбирает идеи и метрики ключевых слов.
type TopicResearcher interface {
	Research(ctx context.Context, req ResearchRequest) ([]TopicIdea, error)
}

// GenerationRequest описывает задание на генерацию статьи.
type GenerationRequest struct {
	ArticleID         int64
	Title             string
	FocusKeyword      string
	SecondaryKeywords []string
	ContentType       ContentType
	TargetWordCount   int
	Niche             string
	Audience          string
}

// GeneratedContent содержит результат генерации.
type GeneratedContent struct {
	Content   string
	WordCount int
}

// ContentGenerator создаёт текст статьи.
type ContentGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (GeneratedContent, error)
}

// PublishRequest описывает публикацию статьи.
type PublishRequest struct {
	Article PlannedArticle
	Content string
	Target  PublishTarget
}

// PublishResult содержит результат публикации.
type PublishResult struct {
	URL string
}

// Publisher публикует статью на внешней площадке.
type Publisher interface {
	Publish(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// ContentStore хранит тексты статей и возвращает ссылку на них.
type ContentStore interface {
	Save(ctx context.Context, key string, content []byte) (string, error)
	Load(ctx context.Context, ref string) ([]byte, error)
}

// EventPublisher отправляет события жизненного цикла статей.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev ArticleEvent) error
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
