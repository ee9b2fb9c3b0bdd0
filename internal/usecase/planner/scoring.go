package planner

import (
	"strings"
	"unicode"

	"content-autopilot/internal/domain"
)

const (
	priorityTrendingGap = 10
	priorityTrending    = 9
	priorityGap         = 7
	priorityBaseline    = 5

	opportunityVolume     = 1000
	opportunityDifficulty = 30
)

// Priority оценивает идею от 1 до 10: тренд, затем разрыв с конкурентами, затем базовый уровень.
// Ключ с большим спросом и низкой сложностью получает +1.
func Priority(idea domain.TopicIdea) int {
	var p int
	switch {
	case idea.Trending && idea.CompetitorGap:
		p = priorityTrendingGap
	case idea.Trending:
		p = priorityTrending
	case idea.CompetitorGap:
		p = priorityGap
	default:
		p = priorityBaseline
	}
	if idea.Metrics.SearchVolume >= opportunityVolume && idea.Metrics.Difficulty <= opportunityDifficulty {
		p++
	}
	return min(p, 10)
}

var (
	howToMarkers      = []string{"how to", "how do", "как ", "step by step", "пошагов"}
	comparisonMarkers = []string{" vs ", " vs. ", "versus", "compared", "comparison", " or ", "сравнение", " или "}
	listicleMarkers   = []string{"best ", "top ", "ideas", "tips", "лучши", "топ ", "идеи", "советы"}
	guideMarkers      = []string{"guide", "ultimate", "complete", "beginner", "руководство", "гайд", "полное"}
)

// InferContentType определяет формат статьи по заголовку.
func InferContentType(title string) domain.ContentType {
	lower := " " + strings.ToLower(strings.TrimSpace(title)) + " "
	switch {
	case containsAny(lower, howToMarkers):
		return domain.ContentTypeHowTo
	case containsAny(lower, comparisonMarkers):
		return domain.ContentTypeComparison
	case startsWithNumber(title) || containsAny(lower, listicleMarkers):
		return domain.ContentTypeListicle
	case containsAny(lower, guideMarkers):
		return domain.ContentTypeGuide
	default:
		return domain.ContentTypeArticle
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func startsWithNumber(title string) bool {
	for _, r := range strings.TrimSpace(title) {
		return unicode.IsDigit(r)
	}
	return false
}
