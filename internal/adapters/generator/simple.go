package generator

import (
	"context"
	"fmt"
	"html"
	"strings"

	"content-autopilot/internal/adapters/markup"
	"content-autopilot/internal/domain"
)

// Simple собирает статью по шаблону без обращения к LLM.
type Simple struct{}

var _ domain.ContentGenerator = Simple{}

// NewSimple создаёт шаблонный генератор.
func NewSimple() Simple {
	return Simple{}
}

var sections = []string{"Overview", "Why it matters", "Getting started", "Common mistakes", "Next steps"}

// Generate строит HTML примерно на TargetWordCount слов.
func (Simple) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GeneratedContent, error) {
	if err := ctx.Err(); err != nil {
		return domain.GeneratedContent{}, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.GeneratedContent{}, fmt.Errorf("генерация: пустой заголовок статьи %d", req.ArticleID)
	}
	keyword := req.FocusKeyword
	if keyword == "" {
		keyword = strings.ToLower(title)
	}
	target := max(req.TargetWordCount, 100)

	var b strings.Builder
	fmt.Fprintf(&b, "<h1>%s</h1>\n", html.EscapeString(title))
	sentence := fmt.Sprintf("This section explains how %s helps readers reach practical results.", html.EscapeString(keyword))
	perSentence := len(strings.Fields(sentence))
	words := len(strings.Fields(title))
	for i := 0; words < target; i++ {
		heading := sections[i%len(sections)]
		fmt.Fprintf(&b, "<h2>%s</h2>\n<p>", heading)
		words += len(strings.Fields(heading))
		for j := 0; j < 8 && words < target; j++ {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(sentence)
			words += perSentence
		}
		b.WriteString("</p>\n")
	}
	content := b.String()
	return domain.GeneratedContent{Content: content, WordCount: markup.WordCount(content)}, nil
}
