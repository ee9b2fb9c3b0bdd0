package research

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"content-autopilot/internal/domain"
)

// Simple детерминированно строит идеи из ниши и ключевых слов.
// Используется без внешнего API и в тестах.
type Simple struct{}

var _ domain.TopicResearcher = Simple{}

// NewSimple создаёт исследователя без внешних зависимостей.
func NewSimple() Simple {
	return Simple{}
}

var templates = map[domain.ResearchScope][]string{
	domain.ResearchPillars: {
		"%s fundamentals",
		"%s tools",
		"%s strategy",
		"%s for beginners",
		"advanced %s",
		"%s trends",
		"%s mistakes",
	},
	domain.ResearchSubtopics: {
		"%s basics",
		"%s best practices",
		"%s case studies",
		"%s checklist",
		"%s metrics",
	},
	domain.ResearchArticles: {
		"How to get started with %s",
		"10 best %s ideas",
		"%s vs alternatives",
		"The complete guide to %s",
		"Why %s matters",
		"How to measure %s",
	},
	domain.ResearchInsights: {
		"What changed in %s this year",
		"7 %s tips experts use",
		"%s: common questions answered",
		"How to automate %s",
	},
}

// Research возвращает не более req.Count идей.
func (Simple) Research(_ context.Context, req domain.ResearchRequest) ([]domain.TopicIdea, error) {
	base := strings.TrimSpace(req.Seed)
	if base == "" {
		base = strings.TrimSpace(req.Niche)
	}
	if base == "" || req.Count <= 0 {
		return nil, nil
	}
	list := templates[req.Scope]
	if len(list) == 0 {
		list = templates[domain.ResearchArticles]
	}
	out := make([]domain.TopicIdea, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		title := fmt.Sprintf(list[i%len(list)], base)
		if round := i / len(list); round > 0 {
			title = fmt.Sprintf("%s, part %d", title, round+1)
		}
		out = append(out, ideaFor(title, req.Keywords))
	}
	return out, nil
}

func ideaFor(title string, keywords []string) domain.TopicIdea {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(title)))
	sum := h.Sum32()
	idea := domain.TopicIdea{
		Title:   capitalize(title),
		Keyword: strings.ToLower(title),
		Metrics: domain.KeywordMetrics{
			SearchVolume: int(sum%5000) + 50,
			Difficulty:   int(sum>>8) % 90,
			CPC:          float64(sum>>16%500) / 100,
			Competition:  float64(sum>>4%100) / 100,
		},
		Trending:      sum%7 == 0,
		CompetitorGap: sum%5 == 0,
	}
	if len(keywords) > 0 {
		idea.SecondaryKeywords = append([]string(nil), keywords[:min(len(keywords), 3)]...)
	}
	return idea
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
