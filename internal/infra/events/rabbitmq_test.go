package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-autopilot/internal/domain"
)

type fakeChannel struct {
	exchange string
	key      string
	msg      amqp.Publishing
	err      error
	closed   bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitPublisherRoutesByEventType(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitPublisher{ch: ch, exchange: DefaultExchange}
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	err := p.PublishEvent(context.Background(), domain.ArticleEvent{Type: domain.EventArticlePublished, ProjectID: 1, ArticleID: 9, URL: "https://x", OccurredAt: at})
	require.NoError(t, err)

	assert.Equal(t, DefaultExchange, ch.exchange)
	assert.Equal(t, "article.published", ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, at, ch.msg.Timestamp)

	var decoded domain.ArticleEvent
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, int64(9), decoded.ArticleID)
	assert.Equal(t, "https://x", decoded.URL)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

func TestRabbitPublisherWrapsErrors(t *testing.T) {
	boom := errors.New("channel closed")
	p := &RabbitPublisher{ch: &fakeChannel{err: boom}, exchange: "x"}
	err := p.PublishEvent(context.Background(), domain.ArticleEvent{Type: domain.EventArticleFailed})
	assert.ErrorIs(t, err, boom)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf).Level(zerolog.DebugLevel))
	require.NoError(t, p.PublishEvent(context.Background(), domain.ArticleEvent{Type: domain.EventBatchCompleted, BatchID: "b1"}))
	assert.Contains(t, buf.String(), `"type":"batch.completed"`)
	assert.Contains(t, buf.String(), `"batch_id":"b1"`)
}
