// Package app собирает сервисы из конфигурации для cmd/api и cmd/scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"content-autopilot/internal/adapters/contentstore"
	"content-autopilot/internal/adapters/generator"
	"content-autopilot/internal/adapters/memstore"
	"content-autopilot/internal/adapters/publisher"
	"content-autopilot/internal/adapters/repo"
	"content-autopilot/internal/adapters/research"
	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/cache"
	"content-autopilot/internal/infra/config"
	"content-autopilot/internal/infra/db"
	"content-autopilot/internal/infra/events"
	"content-autopilot/internal/infra/openai"
	"content-autopilot/internal/infra/queue"
	"content-autopilot/internal/usecase/credits"
	"content-autopilot/internal/usecase/orchestrator"
	"content-autopilot/internal/usecase/planner"
	"content-autopilot/internal/usecase/schedule"
)

// Repository объединяет все хранилища; его реализуют repo.Postgres и memstore.Store.
type Repository interface {
	domain.AutomationRepo
	domain.TopicRepo
	domain.ArticleRepo
	domain.BatchRepo
	domain.CreditStore
}

var (
	_ Repository = (*repo.Postgres)(nil)
	_ Repository = (*memstore.Store)(nil)
)

// Components содержит собранный граф сервисов.
type Components struct {
	Store        Repository
	Schedule     *schedule.Service
	Planner      *planner.Service
	Ledger       *credits.Ledger
	Orchestrator *orchestrator.Orchestrator

	// Sweeps и Locks равны nil, если REDIS_ADDR не задан.
	Sweeps *queue.RedisTriggerQueue
	Locks  *cache.RedisCache

	closers []func()
}

// Build подключает внешние системы по конфигурации.
// Незаданные системы заменяются реализациями в памяти или заглушками.
func Build(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*Components, error) {
	c := &Components{}
	if err := c.build(ctx, cfg, logger); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) build(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) error {
	store, err := c.openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c.Store = store

	researchCache := domain.Cache(memstore.NewCache())
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func() { _ = client.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis: ping %s: %w", cfg.Redis.Addr, err)
		}
		c.Locks = cache.NewRedis(client, cfg.Redis.Prefix)
		c.Sweeps = queue.NewRedisTriggerQueue(client, cfg.Redis.SweepKey)
		researchCache = c.Locks
	}

	var researcher domain.TopicResearcher = research.NewSimple()
	var gen domain.ContentGenerator = generator.NewSimple()
	if cfg.OpenAI.APIKey != "" {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		researcher = research.NewOpenAI(client, cfg.OpenAI.ResearchModel, cfg.Planner.ResearchTimeout)
		gen = generator.NewOpenAI(client, cfg.OpenAI.GenerationModel, cfg.OpenAI.MaxTokens)
	} else {
		logger.Warn().Msg("app: OPENAI_API_KEY не задан, используются шаблонные исследователь и генератор")
	}
	researcher = research.NewCached(researcher, researchCache, cfg.Redis.ResearchTTL, logger)

	profile := planner.DefaultProfile()
	if cfg.Planner.ProfilePath != "" {
		if profile, err = planner.LoadProfile(cfg.Planner.ProfilePath); err != nil {
			return fmt.Errorf("профиль планировщика: %w", err)
		}
	}
	c.Planner = planner.NewService(researcher, store, store, profile, logger).WithResearchTimeout(cfg.Planner.ResearchTimeout)
	c.Schedule = schedule.NewService(store)
	c.Ledger = credits.NewLedger(store, logger)

	pub, err := buildPublisher(cfg, logger)
	if err != nil {
		return err
	}
	contents, err := buildContentStore(ctx, cfg)
	if err != nil {
		return err
	}
	eventPublisher, err := c.buildEvents(cfg, logger)
	if err != nil {
		return err
	}

	c.Orchestrator = orchestrator.New(orchestrator.Deps{
		Automations: store,
		Topics:      store,
		Articles:    store,
		Batches:     store,
		Ledger:      c.Ledger,
		Planner:     c.Planner,
		Generator:   gen,
		Publisher:   pub,
		Contents:    contents,
		Events:      eventPublisher,
	}, orchestrator.Config{
		BatchSize:         cfg.Orchestrator.BatchSize,
		Workers:           cfg.Orchestrator.Workers,
		TenantParallelism: cfg.Orchestrator.TenantParallelism,
		MaxRetries:        cfg.Orchestrator.MaxRetries,
		CreditCost:        cfg.Orchestrator.CreditCost,
		GenerateTimeout:   cfg.Orchestrator.GenerateTimeout,
		PublishTimeout:    cfg.Orchestrator.PublishTimeout,
		RefundOnFailure:   cfg.Orchestrator.RefundOnFailure,
	}, logger)
	return nil
}

func (c *Components) openStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (Repository, error) {
	if cfg.PGDSN == "" {
		if cfg.AppEnv != "dev" {
			return nil, errors.New("PG_DSN обязателен вне dev")
		}
		logger.Warn().Msg("app: PG_DSN не задан, данные хранятся в памяти")
		return memstore.New(), nil
	}
	pool, err := db.Connect(cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("подключение к БД: %w", err)
	}
	c.closers = append(c.closers, pool.Close)
	if err := db.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("миграции: %w", err)
	}
	return repo.NewPostgres(pool), nil
}

func buildPublisher(cfg config.AppConfig, logger zerolog.Logger) (domain.Publisher, error) {
	router := publisher.NewRouter()
	if cfg.WordPress.Username != "" {
		router.Register(domain.PublishTargetWordPress, publisher.NewWordPress(
			cfg.WordPress.Username, cfg.WordPress.AppPassword, cfg.WordPress.PostStatus, cfg.WordPress.Timeout))
	}
	if cfg.Telegram.Token != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram: создание бота: %w", err)
		}
		logger.Info().Str("bot", bot.Self.UserName).Msg("app: публикация в Telegram включена")
		router.Register(domain.PublishTargetTelegram, publisher.NewTelegram(bot))
	}
	return router, nil
}

func buildContentStore(ctx context.Context, cfg config.AppConfig) (domain.ContentStore, error) {
	if cfg.S3.Bucket == "" {
		return memstore.NewContents(), nil
	}
	return contentstore.NewS3(ctx, contentstore.Config{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Prefix:          cfg.S3.Prefix,
	})
}

func (c *Components) buildEvents(cfg config.AppConfig, logger zerolog.Logger) (domain.EventPublisher, error) {
	if cfg.AMQP.URL == "" {
		return events.NewLogPublisher(logger), nil
	}
	p, err := events.DialRabbit(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, func() { _ = p.Close() })
	return p, nil
}

// Close освобождает подключения в обратном порядке.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
