package domain

import "time"

// Frequency описывает периодичность автоматизации.
type Frequency string

const (
	FrequencyDaily        Frequency = "daily"
	FrequencyThriceWeekly Frequency = "thrice_weekly"
	FrequencyWeekly       Frequency = "weekly"
	FrequencyMonthly      Frequency = "monthly"
)

// CadenceRule задаёт правило повторения запусков.
type CadenceRule struct {
	Frequency  Frequency `json:"frequency" validate:"required,oneof=daily thrice_weekly weekly monthly"`
	TimeOfDay  string    `json:"time_of_day" validate:"required,datetime=15:04"`
	DayOfWeek  int       `json:"day_of_week" validate:"min=0,max=6"`
	DayOfMonth int       `json:"day_of_month" validate:"required_if=Frequency monthly,omitempty,min=1,max=31"`
	Timezone   string    `json:"timezone,omitempty"`
}

// ScheduleState хранит вычисленное расписание автоматизации.
type ScheduleState struct {
	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
}

// PublishTargetKind определяет площадку публикации.
type PublishTargetKind string

const (
	PublishTargetNone      PublishTargetKind = "none"
	PublishTargetWordPress PublishTargetKind = "wordpress"
	PublishTargetTelegram  PublishTargetKind = "telegram"
)

// PublishTarget описывает, куда публиковать готовые статьи.
// Пустой Kind приводится к none до валидации.
type PublishTarget struct {
	Kind        PublishTargetKind `json:"kind" validate:"omitempty,oneof=none wordpress telegram"`
	Destination string            `json:"destination" validate:"required_unless=Kind none"`
}

// Automation описывает автоматическую генерацию контента проекта.
type Automation struct {
	ID             int64         `json:"id"`
	ProjectID      int64         `json:"project_id"`
	TopicMapID     int64         `json:"topic_map_id"`
	Enabled        bool          `json:"enabled"`
	Rule           CadenceRule   `json:"rule"`
	Schedule       ScheduleState `json:"schedule"`
	ArticlesPerRun int           `json:"articles_per_run"`
	AutoPublish    bool          `json:"auto_publish"`
	Target         PublishTarget `json:"target"`
	AutoRefresh    bool          `json:"auto_refresh"`
	RefreshCount   int           `json:"refresh_count"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsDue сообщает, наступило ли время очередного запуска.
func (a Automation) IsDue(now time.Time) bool {
	return a.Enabled && !a.Schedule.NextRunAt.After(now)
}

// KeywordMetrics содержит внешние метрики ключевого слова.
type KeywordMetrics struct {
	SearchVolume int     `json:"search_volume"`
	Difficulty   int     `json:"difficulty"`
	CPC          float64 `json:"cpc"`
	Competition  float64 `json:"competition"`
}

// ContentType описывает формат статьи.
type ContentType string

const (
	ContentTypeArticle    ContentType = "article"
	ContentTypeGuide      ContentType = "guide"
	ContentTypeHowTo      ContentType = "how_to"
	ContentTypeListicle   ContentType = "listicle"
	ContentTypeComparison ContentType = "comparison"
)

// TopicMap описывает карту тем проекта.
type TopicMap struct {
	ID              int64            `json:"id"`
	ProjectID       int64            `json:"project_id"`
	Niche           string           `json:"niche"`
	Audience        string           `json:"audience"`
	Keywords        []string         `json:"keywords"`
	RequireApproval bool             `json:"require_approval"`
	Pillars         []Pillar         `json:"pillars"`
	Orphans         []PlannedArticle `json:"orphans,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Pillar описывает тему верхнего уровня.
type Pillar struct {
	ID        int64      `json:"id"`
	MapID     int64      `json:"map_id"`
	Title     string     `json:"title"`
	Keyword   string     `json:"keyword"`
	Position  int        `json:"position"`
	Subtopics []Subtopic `json:"subtopics"`
}

// Subtopic описывает подтему внутри столпа.
type Subtopic struct {
	ID       int64            `json:"id"`
	PillarID int64            `json:"pillar_id"`
	Title    string           `json:"title"`
	Keyword  string           `json:"keyword"`
	Position int              `json:"position"`
	Articles []PlannedArticle `json:"articles"`
}

// PlannedArticle описывает запланированную статью и её жизненный цикл.
type PlannedArticle struct {
	ID                int64          `json:"id"`
	MapID             int64          `json:"map_id"`
	PillarID          *int64         `json:"pillar_id,omitempty"`
	SubtopicID        *int64         `json:"subtopic_id,omitempty"`
	Title             string         `json:"title"`
	Slug              string         `json:"slug"`
	FocusKeyword      string         `json:"focus_keyword"`
	SecondaryKeywords []string       `json:"secondary_keywords"`
	Metrics           KeywordMetrics `json:"metrics"`
	TargetWordCount   int            `json:"target_word_count"`
	Priority          int            `json:"priority"`
	ContentType       ContentType    `json:"content_type"`
	Status            ArticleStatus  `json:"status"`
	RetryCount        int            `json:"retry_count"`
	LastError         string         `json:"last_error,omitempty"`
	ContentRef        string         `json:"content_ref,omitempty"`
	WordCount         int            `json:"word_count,omitempty"`
	PublishedURL      string         `json:"published_url,omitempty"`
	PublishedAt       *time.Time     `json:"published_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// AllArticles возвращает все статьи карты, включая статьи без подтемы.
func (m TopicMap) AllArticles() []PlannedArticle {
	var out []PlannedArticle
	for _, p := range m.Pillars {
		for _, s := range p.Subtopics {
			out = append(out, s.Articles...)
		}
	}
	return append(out, m.Orphans...)
}

// TopicMapDelta содержит добавленные планировщиком узлы.
// Pillars содержит новые столпы целиком, Articles содержит статьи для уже существующих узлов.
type TopicMapDelta struct {
	MapID    int64            `json:"map_id"`
	Pillars  []Pillar         `json:"pillars,omitempty"`
	Articles []PlannedArticle `json:"articles,omitempty"`
}

// ArticleCount возвращает количество статей в дельте.
func (d TopicMapDelta) ArticleCount() int {
	n := len(d.Articles)
	for _, p := range d.Pillars {
		for _, s := range p.Subtopics {
			n += len(s.Articles)
		}
	}
	return n
}

// IsEmpty сообщает, что дельта ничего не добавляет.
func (d TopicMapDelta) IsEmpty() bool {
	return d.ArticleCount() == 0 && len(d.Pillars) == 0
}
