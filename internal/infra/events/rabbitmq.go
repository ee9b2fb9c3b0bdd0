package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

// DefaultExchange задаёт topic exchange событий жизненного цикла статей.
const DefaultExchange = "content.events"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitPublisher отправляет события в topic exchange с routing key = тип события.
type RabbitPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

var _ domain.EventPublisher = (*RabbitPublisher)(nil)

// DialRabbit подключается к брокеру и объявляет exchange.
func DialRabbit(url, exchange string) (*RabbitPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: подключение: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: канал: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: объявление exchange %s: %w", exchange, err)
	}
	return &RabbitPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// PublishEvent сериализует событие в JSON и публикует его как persistent.
func (p *RabbitPublisher) PublishEvent(ctx context.Context, ev domain.ArticleEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()
	err = p.ch.PublishWithContext(ctx, p.exchange, string(ev.Type), false, false, msg)
	metrics.ObserveNetworkRequest("rabbitmq", "publish", p.exchange, start, err)
	if err != nil {
		return fmt.Errorf("rabbitmq: публикация %s: %w", ev.Type, err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func encode(ev domain.ArticleEvent) (amqp.Publishing, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Type),
		Body:         body,
	}, nil
}

// LogPublisher пишет события в лог, когда брокер не настроен.
type LogPublisher struct {
	logger zerolog.Logger
}

var _ domain.EventPublisher = LogPublisher{}

// NewLogPublisher создаёт публикатор событий в лог.
func NewLogPublisher(logger zerolog.Logger) LogPublisher {
	return LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

// PublishEvent логирует событие на уровне debug.
func (l LogPublisher) PublishEvent(_ context.Context, ev domain.ArticleEvent) error {
	l.logger.Debug().
		Str("type", string(ev.Type)).
		Int64("project_id", ev.ProjectID).
		Int64("article_id", ev.ArticleID).
		Str("batch_id", ev.BatchID).
		Str("status", string(ev.Status)).
		Msg("events: событие")
	return nil
}
