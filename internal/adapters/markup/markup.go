// Package markup разбирает HTML статей: подсчёт слов и перевод в простой текст.
package markup

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// WordCount считает слова в видимом тексте HTML.
func WordCount(html string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return len(strings.Fields(html))
	}
	var b strings.Builder
	collectText(doc.Selection, &b)
	return len(strings.Fields(b.String()))
}

// collectText собирает текстовые узлы через пробел, чтобы соседние теги не склеивали слова.
func collectText(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "#text":
			b.WriteString(c.Text())
			b.WriteByte(' ')
		case "script", "style":
		default:
			collectText(c, b)
		}
	})
}

// Title возвращает текст первого заголовка h1, если он есть.
func Title(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// PlainText переводит HTML в текст с абзацами через пустую строку.
// Пункты списков получают префикс «• ».
func PlainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	var blocks []string
	doc.Find("h1, h2, h3, h4, p, li, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFiltered("li, blockquote").Length() > 0 {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		if goquery.NodeName(s) == "li" {
			text = "• " + text
		}
		blocks = append(blocks, text)
	})
	if len(blocks) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(blocks, "\n\n")
}
