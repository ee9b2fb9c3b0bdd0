package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"content-autopilot/internal/domain"
	openai "content-autopilot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI подбирает идеи тем через Chat Completions с JSON-ответом.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
}

var _ domain.TopicResearcher = (*OpenAI)(nil)

// NewOpenAI создаёт исследователя тем.
func NewOpenAI(client chatClient, model string, timeout time.Duration) *OpenAI {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{client: client, model: model, timeout: timeout}
}

type ideasPayload struct {
	Ideas []ideaPayload `json:"ideas"`
}

type ideaPayload struct {
	Title             string   `json:"title"`
	Keyword           string   `json:"keyword"`
	SecondaryKeywords []string `json:"secondary_keywords"`
	SearchVolume      int      `json:"search_volume"`
	Difficulty        int      `json:"difficulty"`
	CPC               float64  `json:"cpc"`
	Competition       float64  `json:"competition"`
	Trending          bool     `json:"trending"`
	CompetitorGap     bool     `json:"competitor_gap"`
}

var scopeHints = map[domain.ResearchScope]string{
	domain.ResearchPillars:   "broad pillar topics that organize the whole niche",
	domain.ResearchSubtopics: "subtopics that break down the parent topic",
	domain.ResearchArticles:  "concrete article ideas for the parent topic",
	domain.ResearchInsights:  "fresh article ideas based on current trends and competitor gaps",
}

// Research возвращает идеи для запрошенного уровня иерархии.
func (o *OpenAI) Research(ctx context.Context, req domain.ResearchRequest) ([]domain.TopicIdea, error) {
	if req.Count <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.4,
		MaxTokens:   200 + req.Count*120,
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You are an SEO strategist. Estimate keyword metrics realistically and never repeat ideas.",
			},
			{
				Role:    openai.RoleUser,
				Content: buildPrompt(req),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	content, err := resp.Content()
	if err != nil {
		return nil, err
	}
	return parseIdeas(content, req.Count)
}

func buildPrompt(req domain.ResearchRequest) string {
	var b strings.Builder
	hint := scopeHints[req.Scope]
	if hint == "" {
		hint = scopeHints[domain.ResearchArticles]
	}
	fmt.Fprintf(&b, "Suggest %d %s.\n", req.Count, hint)
	fmt.Fprintf(&b, "Niche: %s\n", req.Niche)
	if req.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", req.Audience)
	}
	if req.Seed != "" {
		fmt.Fprintf(&b, "Parent topic: %s\n", req.Seed)
	}
	if len(req.Keywords) > 0 {
		fmt.Fprintf(&b, "Seed keywords: %s\n", strings.Join(req.Keywords, ", "))
	}
	b.WriteString(`Return JSON {"ideas": [{"title": "...", "keyword": "...", "secondary_keywords": ["..."], "search_volume": 0, "difficulty": 0, "cpc": 0, "competition": 0, "trending": false, "competitor_gap": false}]} without explanations.`)
	return b.String()
}

func parseIdeas(content string, limit int) ([]domain.TopicIdea, error) {
	var parsed ideasPayload
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("распаковка ответа LLM: %w", err)
	}
	out := make([]domain.TopicIdea, 0, len(parsed.Ideas))
	for _, idea := range parsed.Ideas {
		title := strings.TrimSpace(idea.Title)
		if title == "" {
			continue
		}
		keyword := strings.TrimSpace(idea.Keyword)
		if keyword == "" {
			keyword = strings.ToLower(title)
		}
		out = append(out, domain.TopicIdea{
			Title:             title,
			Keyword:           keyword,
			SecondaryKeywords: filterValues(idea.SecondaryKeywords),
			Metrics: domain.KeywordMetrics{
				SearchVolume: max(idea.SearchVolume, 0),
				Difficulty:   clampInt(idea.Difficulty, 0, 100),
				CPC:          max(idea.CPC, 0),
				Competition:  min(max(idea.Competition, 0), 1),
			},
			Trending:      idea.Trending,
			CompetitorGap: idea.CompetitorGap,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func filterValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
