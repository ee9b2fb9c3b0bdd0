package config

import (
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	// Пустой APIToken отключает проверку bearer-токена.
	APIToken    string `envconfig:"API_TOKEN"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"5"`

	Redis struct {
		Addr        string        `envconfig:"REDIS_ADDR"`
		Password    string        `envconfig:"REDIS_PASSWORD"`
		DB          int           `envconfig:"REDIS_DB" default:"0"`
		Prefix      string        `envconfig:"REDIS_PREFIX" default:"content-autopilot:"`
		SweepKey    string        `envconfig:"SWEEP_QUEUE_KEY" default:"content-autopilot:sweeps"`
		LockTTL     time.Duration `envconfig:"SWEEP_LOCK_TTL" default:"10m"`
		ResearchTTL time.Duration `envconfig:"RESEARCH_CACHE_TTL" default:"6h"`
	} `envconfig:""`

	AMQP struct {
		URL      string `envconfig:"AMQP_URL"`
		Exchange string `envconfig:"AMQP_EXCHANGE" default:"content.events"`
	} `envconfig:""`

	OpenAI struct {
		APIKey          string        `envconfig:"OPENAI_API_KEY"`
		BaseURL         string        `envconfig:"OPENAI_BASE_URL"`
		ResearchModel   string        `envconfig:"OPENAI_RESEARCH_MODEL" default:"gpt-4.1-mini"`
		GenerationModel string        `envconfig:"OPENAI_GENERATION_MODEL" default:"gpt-4.1"`
		MaxTokens       int           `envconfig:"OPENAI_MAX_TOKENS" default:"6000"`
		Timeout         time.Duration `envconfig:"OPENAI_TIMEOUT" default:"90s"`
	} `envconfig:""`

	S3 struct {
		Bucket          string `envconfig:"S3_BUCKET"`
		Region          string `envconfig:"S3_REGION" default:"us-east-1"`
		Endpoint        string `envconfig:"S3_ENDPOINT"`
		AccessKeyID     string `envconfig:"S3_ACCESS_KEY_ID"`
		SecretAccessKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
		Prefix          string `envconfig:"S3_PREFIX"`
	} `envconfig:""`

	WordPress struct {
		Username    string        `envconfig:"WP_USERNAME"`
		AppPassword string        `envconfig:"WP_APP_PASSWORD"`
		PostStatus  string        `envconfig:"WP_POST_STATUS" default:"publish"`
		Timeout     time.Duration `envconfig:"WP_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	Orchestrator struct {
		BatchSize         int           `envconfig:"BATCH_SIZE" default:"5"`
		Workers           int           `envconfig:"BATCH_WORKERS" default:"3"`
		TenantParallelism int           `envconfig:"TENANT_PARALLELISM" default:"4"`
		MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3"`
		CreditCost        int64         `envconfig:"CREDIT_COST" default:"1"`
		GenerateTimeout   time.Duration `envconfig:"GENERATE_TIMEOUT" default:"2m"`
		PublishTimeout    time.Duration `envconfig:"PUBLISH_TIMEOUT" default:"30s"`
		RefundOnFailure   bool          `envconfig:"REFUND_ON_FAILURE" default:"false"`
	} `envconfig:""`

	Planner struct {
		ProfilePath     string        `envconfig:"PLANNER_PROFILE"`
		ResearchTimeout time.Duration `envconfig:"RESEARCH_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Scheduler struct {
		Interval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
		RunOnce  bool          `envconfig:"RUN_ONCE" default:"false"`
	} `envconfig:""`
}

// Load загружает .env (если есть) и конфиг из окружения.
func Load() AppConfig {
	cfg, err := load(".env")
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

func load(envFiles ...string) (AppConfig, error) {
	for _, file := range envFiles {
		// godotenv.Load не перезаписывает уже заданные переменные окружения.
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, err
		}
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}
