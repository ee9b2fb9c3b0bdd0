package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-autopilot/internal/domain"
	openai "content-autopilot/internal/infra/openai"
)

type fakeChat struct {
	content string
	err     error
	last    openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatMessage{Content: f.content}}}}, nil
}

func TestOpenAIGenerateStripsFenceAndCountsWords(t *testing.T) {
	chat := &fakeChat{content: "```html\n<h1>Brew guide</h1><p>Fresh beans matter most.</p>\n```"}
	g := NewOpenAI(chat, "", 0)

	out, err := g.Generate(context.Background(), domain.GenerationRequest{
		Title:             "Brew guide",
		FocusKeyword:      "brew",
		SecondaryKeywords: []string{"beans", "grinder"},
		ContentType:       domain.ContentTypeHowTo,
		TargetWordCount:   1500,
	})
	require.NoError(t, err)

	assert.Equal(t, "<h1>Brew guide</h1><p>Fresh beans matter most.</p>", out.Content)
	assert.Equal(t, 6, out.WordCount)
	assert.Equal(t, "gpt-4.1", chat.last.Model)
	assert.Equal(t, 3000, chat.last.MaxTokens)
	assert.Contains(t, chat.last.Messages[1].Content, "step-by-step")
	assert.Contains(t, chat.last.Messages[1].Content, "Secondary keywords: beans, grinder.")
}

func TestOpenAIGenerateFailures(t *testing.T) {
	g := NewOpenAI(&fakeChat{err: errors.New("timeout")}, "m", 100)
	_, err := g.Generate(context.Background(), domain.GenerationRequest{Title: "x"})
	assert.ErrorContains(t, err, "timeout")

	g = NewOpenAI(&fakeChat{content: "<p> </p>"}, "m", 100)
	_, err = g.Generate(context.Background(), domain.GenerationRequest{Title: "x"})
	assert.Error(t, err)
}

func TestSimpleGenerateReachesTarget(t *testing.T) {
	out, err := NewSimple().Generate(context.Background(), domain.GenerationRequest{ArticleID: 1, Title: "Espresso <basics>", TargetWordCount: 600})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, out.WordCount, 600)
	assert.Less(t, out.WordCount, 700)
	assert.True(t, strings.HasPrefix(out.Content, "<h1>Espresso &lt;basics&gt;</h1>"))
}

func TestSimpleGenerateRejectsEmptyTitleAndCancelledContext(t *testing.T) {
	_, err := NewSimple().Generate(context.Background(), domain.GenerationRequest{ArticleID: 2})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSimple().Generate(ctx, domain.GenerationRequest{Title: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		"<p>a</p>":                 "<p>a</p>",
		"```\n<p>a</p>\n```":       "<p>a</p>",
		"  ```html\n<p>b</p>```  ": "<p>b</p>",
	}
	for in, want := range cases {
		if got := stripFence(in); got != want {
			t.Errorf("stripFence(%q) = %q, want %q", in, got, want)
		}
	}
}
