package domain

import (
	"fmt"
	"strings"
	"time"
)

// ArticleStatus описывает состояние статьи в конвейере генерации.
type ArticleStatus string

const (
	StatusIdea       ArticleStatus = "idea"
	StatusPlanned    ArticleStatus = "planned"
	StatusGenerating ArticleStatus = "generating"
	StatusGenerated  ArticleStatus = "generated"
	StatusPublished  ArticleStatus = "published"
	StatusFailed     ArticleStatus = "failed"
	StatusArchived   ArticleStatus = "archived"
)

// переход published → failed допускается только при повторной публикации.
var transitions = map[ArticleStatus][]ArticleStatus{
	StatusIdea:       {StatusPlanned, StatusArchived},
	StatusPlanned:    {StatusGenerating, StatusArchived},
	StatusGenerating: {StatusGenerated, StatusFailed},
	StatusGenerated:  {StatusPublished, StatusFailed, StatusArchived},
	StatusPublished:  {StatusFailed},
	StatusFailed:     {StatusGenerating, StatusArchived},
	StatusArchived:   nil,
}

// ParseArticleStatus разбирает строковое представление статуса.
func ParseArticleStatus(raw string) (ArticleStatus, error) {
	status := ArticleStatus(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := transitions[status]; !ok {
		return "", fmt.Errorf("неизвестный статус %q", raw)
	}
	return status, nil
}

// IsTerminal сообщает, что конвейер больше не выбирает статью.
func (s ArticleStatus) IsTerminal() bool {
	return s == StatusPublished || s == StatusArchived
}

// CanTransition проверяет допустимость перехода.
func CanTransition(from, to ArticleStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition возвращает ErrIllegalTransition для недопустимого перехода.
func ValidateTransition(from, to ArticleStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// ArticleUpdate содержит поля, которые меняются вместе со статусом.
// nil означает «не менять».
type ArticleUpdate struct {
	ContentRef     *string
	WordCount      *int
	LastError      *string
	IncrementRetry bool
	PublishedURL   *string
	PublishedAt    *time.Time
}
