package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const scheme = "s3://"

// Config описывает подключение к S3-совместимому хранилищу.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 хранит тексты статей объектами и возвращает ссылки s3://bucket/key.
type S3 struct {
	api    objectAPI
	bucket string
	prefix string
}

var _ domain.ContentStore = (*S3)(nil)

// NewS3 создаёт хранилище по статическим ключам доступа.
// Для MinIO и B2 задаётся Endpoint, в этом случае используются path-style адреса.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is empty")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: загрузка конфигурации: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3(api objectAPI, bucket, prefix string) *S3 {
	return &S3{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Save загружает текст статьи.
func (s *S3) Save(ctx context.Context, key string, content []byte) (string, error) {
	objectKey := s.objectKey(key)
	start := time.Now()
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType(objectKey)),
	})
	metrics.ObserveNetworkRequest("s3", "put_object", s.bucket, start, err)
	if err != nil {
		return "", fmt.Errorf("s3: загрузка %s: %w", objectKey, err)
	}
	return scheme + s.bucket + "/" + objectKey, nil
}

// Load читает текст по ссылке s3://bucket/key.
func (s *S3) Load(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	metrics.ObserveNetworkRequest("s3", "get_object", bucket, start, err)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, ref)
		}
		return nil, fmt.Errorf("s3: чтение %s: %w", ref, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func parseRef(ref string) (string, string, error) {
	rest, ok := strings.CutPrefix(ref, scheme)
	if !ok {
		return "", "", fmt.Errorf("s3: ссылка %q без схемы s3://", ref)
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3: некорректная ссылка %q", ref)
	}
	return bucket, key, nil
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	default:
		return "text/plain; charset=utf-8"
	}
}
