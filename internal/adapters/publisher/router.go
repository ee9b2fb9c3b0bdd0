package publisher

import (
	"context"
	"errors"
	"fmt"

	"content-autopilot/internal/domain"
)

// ErrUnsupportedTarget возвращается, если для площадки не настроен публикатор.
var ErrUnsupportedTarget = errors.New("unsupported publish target")

// Router выбирает публикатор по виду площадки.
type Router struct {
	targets map[domain.PublishTargetKind]domain.Publisher
}

var _ domain.Publisher = (*Router)(nil)

// NewRouter создаёт пустой маршрутизатор.
func NewRouter() *Router {
	return &Router{targets: make(map[domain.PublishTargetKind]domain.Publisher)}
}

// Register добавляет публикатор; nil игнорируется.
func (r *Router) Register(kind domain.PublishTargetKind, p domain.Publisher) *Router {
	if p != nil {
		r.targets[kind] = p
	}
	return r
}

// Publish передаёт запрос публикатору площадки.
func (r *Router) Publish(ctx context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	p, ok := r.targets[req.Target.Kind]
	if !ok {
		return domain.PublishResult{}, fmt.Errorf("%w: %q", ErrUnsupportedTarget, req.Target.Kind)
	}
	return p.Publish(ctx, req)
}
