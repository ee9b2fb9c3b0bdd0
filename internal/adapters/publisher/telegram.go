package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"content-autopilot/internal/adapters/markup"
	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

// ErrInvalidChannel возвращается для адреса канала, который не является @username или числовым id.
var ErrInvalidChannel = errors.New("invalid telegram channel")

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram публикует статью в канал сообщениями бота.
type Telegram struct {
	bot   sender
	limit int
}

var _ domain.Publisher = (*Telegram)(nil)

// NewTelegram создаёт публикатор поверх Bot API.
func NewTelegram(bot sender) *Telegram {
	return &Telegram{bot: bot, limit: telegramLimit}
}

// Publish отправляет текст статьи в канал Target.Destination.
// Если канал публичный, URL указывает на первое сообщение.
func (t *Telegram) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	channel := strings.TrimSpace(req.Target.Destination)
	body := markup.PlainText(req.Content)
	if title := strings.TrimSpace(req.Article.Title); title != "" && markup.Title(req.Content) == "" {
		body = title + "\n\n" + body
	}
	parts := splitText(body, t.limit)
	if len(parts) == 0 {
		return domain.PublishResult{}, fmt.Errorf("telegram: пустая статья %d", req.Article.ID)
	}

	var first tgbotapi.Message
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			return domain.PublishResult{}, err
		}
		msg, err := newChannelMessage(channel, part)
		if err != nil {
			return domain.PublishResult{}, err
		}
		msg.DisableWebPagePreview = i > 0

		start := time.Now()
		sent, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram", "send_message", "channel", start, err)
		if err != nil {
			return domain.PublishResult{}, fmt.Errorf("telegram: отправка части %d/%d: %w", i+1, len(parts), err)
		}
		if i == 0 {
			first = sent
		}
	}
	return domain.PublishResult{URL: messageURL(channel, first.MessageID)}, nil
}

func newChannelMessage(channel, text string) (tgbotapi.MessageConfig, error) {
	if strings.HasPrefix(channel, "@") && len(channel) > 1 {
		return tgbotapi.NewMessageToChannel(channel, text), nil
	}
	chatID, err := strconv.ParseInt(channel, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	return tgbotapi.NewMessage(chatID, text), nil
}

func messageURL(channel string, messageID int) string {
	if !strings.HasPrefix(channel, "@") || messageID == 0 {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", strings.TrimPrefix(channel, "@"), messageID)
}
