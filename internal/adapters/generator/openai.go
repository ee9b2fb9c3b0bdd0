package generator

import (
	"context"
	"fmt"
	"strings"

	"content-autopilot/internal/adapters/markup"
	"content-autopilot/internal/domain"
	openai "content-autopilot/internal/infra/openai"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI генерирует HTML статьи через Chat Completions.
type OpenAI struct {
	client    chatClient
	model     string
	maxTokens int
}

var _ domain.ContentGenerator = (*OpenAI)(nil)

// NewOpenAI создаёт генератор статей.
func NewOpenAI(client chatClient, model string, maxTokens int) *OpenAI {
	if model == "" {
		model = "gpt-4.1"
	}
	if maxTokens <= 0 {
		maxTokens = 6000
	}
	return &OpenAI{client: client, model: model, maxTokens: maxTokens}
}

var typeHints = map[domain.ContentType]string{
	domain.ContentTypeHowTo:      "a step-by-step how-to with numbered steps",
	domain.ContentTypeListicle:   "a listicle with one h2 per item",
	domain.ContentTypeComparison: "a comparison with a summary table and a verdict",
	domain.ContentTypeGuide:      "a long-form guide with a table of contents",
	domain.ContentTypeArticle:    "an informative blog article",
}

// Generate возвращает HTML статьи и число слов в нём.
// Таймаут задаёт вызывающая сторона через ctx.
func (o *OpenAI) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GeneratedContent, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.7,
		MaxTokens:   min(o.maxTokens, max(req.TargetWordCount*2, 1000)),
		Messages: []openai.ChatMessage{
			{
				Role:    openai.RoleSystem,
				Content: "You are a senior content writer. Answer with clean semantic HTML only: h1, h2, h3, p, ul, ol, li, table, blockquote. No markdown, no scripts.",
			},
			{
				Role:    openai.RoleUser,
				Content: buildPrompt(req),
			},
		},
	})
	if err != nil {
		return domain.GeneratedContent{}, fmt.Errorf("openai completion: %w", err)
	}
	content, err := resp.Content()
	if err != nil {
		return domain.GeneratedContent{}, err
	}
	html := stripFence(content)
	words := markup.WordCount(html)
	if words == 0 {
		return domain.GeneratedContent{}, fmt.Errorf("openai completion: статья без текста")
	}
	return domain.GeneratedContent{Content: html, WordCount: words}, nil
}

func buildPrompt(req domain.GenerationRequest) string {
	var b strings.Builder
	hint := typeHints[req.ContentType]
	if hint == "" {
		hint = typeHints[domain.ContentTypeArticle]
	}
	fmt.Fprintf(&b, "Write %s titled %q.\n", hint, req.Title)
	fmt.Fprintf(&b, "Target length: about %d words.\n", req.TargetWordCount)
	if req.FocusKeyword != "" {
		fmt.Fprintf(&b, "Focus keyword: %s (use it in the title, the first paragraph and one h2).\n", req.FocusKeyword)
	}
	if len(req.SecondaryKeywords) > 0 {
		fmt.Fprintf(&b, "Secondary keywords: %s.\n", strings.Join(req.SecondaryKeywords, ", "))
	}
	if req.Niche != "" {
		fmt.Fprintf(&b, "Niche: %s.\n", req.Niche)
	}
	if req.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s.\n", req.Audience)
	}
	return b.String()
}

// stripFence убирает обёртку ```html, которую модели иногда добавляют.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
