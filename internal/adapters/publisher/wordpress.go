package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const postsPath = "/wp-json/wp/v2/posts"

// WordPress публикует статьи через REST API WordPress.
// Target.Destination содержит базовый адрес сайта.
type WordPress struct {
	http     *http.Client
	username string
	password string
	status   string
}

var _ domain.Publisher = (*WordPress)(nil)

// NewWordPress создаёт клиента с авторизацией по паролю приложения.
func NewWordPress(username, appPassword, status string, timeout time.Duration) *WordPress {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if status == "" {
		status = "publish"
	}
	return &WordPress{
		http:     &http.Client{Timeout: timeout},
		username: username,
		password: appPassword,
		status:   status,
	}
}

type wpPostRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Slug    string `json:"slug,omitempty"`
	Status  string `json:"status"`
}

type wpPostResponse struct {
	ID   int64  `json:"id"`
	Link string `json:"link"`
}

type wpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Publish создаёт запись и возвращает её постоянную ссылку.
func (w *WordPress) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	endpoint, err := postsEndpoint(req.Target.Destination)
	if err != nil {
		return domain.PublishResult{}, err
	}
	body, err := json.Marshal(wpPostRequest{
		Title:   req.Article.Title,
		Content: req.Content,
		Slug:    req.Article.Slug,
		Status:  w.status,
	})
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("wordpress: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("wordpress: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(w.username, w.password)

	start := time.Now()
	post, err := w.do(httpReq)
	metrics.ObserveNetworkRequest("wordpress", "create_post", httpReq.URL.Host, start, err)
	if err != nil {
		return domain.PublishResult{}, err
	}
	return domain.PublishResult{URL: post.Link}, nil
}

func (w *WordPress) do(httpReq *http.Request) (wpPostResponse, error) {
	resp, err := w.http.Do(httpReq)
	if err != nil {
		return wpPostResponse{}, fmt.Errorf("wordpress: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return wpPostResponse{}, fmt.Errorf("wordpress: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr wpError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return wpPostResponse{}, fmt.Errorf("wordpress: %d %s: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return wpPostResponse{}, fmt.Errorf("wordpress: unexpected status %d", resp.StatusCode)
	}
	var post wpPostResponse
	if err := json.Unmarshal(raw, &post); err != nil {
		return wpPostResponse{}, fmt.Errorf("wordpress: decode response: %w", err)
	}
	if post.Link == "" {
		return wpPostResponse{}, fmt.Errorf("wordpress: ответ без ссылки на запись %d", post.ID)
	}
	return post, nil
}

func postsEndpoint(site string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(site))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("wordpress: некорректный адрес сайта %q", site)
	}
	u.Path = strings.TrimRight(u.Path, "/") + postsPath
	u.RawQuery = ""
	return u.String(), nil
}
