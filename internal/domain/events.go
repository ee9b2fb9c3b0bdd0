package domain

import "time"

// ArticleEventType описывает тип события жизненного цикла статьи.
type ArticleEventType string

const (
	// EventArticleGenerating фиксирует начало генерации.
	EventArticleGenerating ArticleEventType = "article.generating"
	// EventArticleGenerated фиксирует успешную генерацию.
	EventArticleGenerated ArticleEventType = "article.generated"
	// EventArticlePublished фиксирует успешную публикацию.
	EventArticlePublished ArticleEventType = "article.published"
	// EventArticleFailed фиксирует ошибку генерации или публикации.
	EventArticleFailed ArticleEventType = "article.failed"
	// EventArticleArchived фиксирует архивирование по запросу пользователя.
	EventArticleArchived ArticleEventType = "article.archived"
	// EventBatchCompleted фиксирует завершение пакета.
	EventBatchCompleted ArticleEventType = "batch.completed"
)

// ArticleEvent описывает событие, отправляемое во внешние системы.
type ArticleEvent struct {
	Type         ArticleEventType `json:"type"`
	ProjectID    int64            `json:"project_id"`
	AutomationID int64            `json:"automation_id,omitempty"`
	ArticleID    int64            `json:"article_id,omitempty"`
	BatchID      string           `json:"batch_id,omitempty"`
	Status       ArticleStatus    `json:"status,omitempty"`
	URL          string           `json:"url,omitempty"`
	Error        string           `json:"error,omitempty"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}
