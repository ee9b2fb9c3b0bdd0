package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"content-autopilot/internal/domain"
)

// ErrNoPublishTarget возвращается при публикации в автоматизации без площадки.
var ErrNoPublishTarget = errors.New("publish target is not configured")

// Archive снимает статью с конвейера. Статья в generating не архивируется.
func (o *Orchestrator) Archive(ctx context.Context, articleID int64) (domain.PlannedArticle, error) {
	art, err := o.deps.Articles.GetArticle(ctx, articleID)
	if err != nil {
		return domain.PlannedArticle{}, fmt.Errorf("получение статьи: %w", err)
	}
	if err := domain.ValidateTransition(art.Status, domain.StatusArchived); err != nil {
		return domain.PlannedArticle{}, err
	}
	ok, err := o.deps.Articles.TransitionArticle(ctx, art.ID, art.Status, domain.StatusArchived, domain.ArticleUpdate{})
	if err != nil {
		return domain.PlannedArticle{}, fmt.Errorf("архивирование статьи: %w", err)
	}
	if !ok {
		return domain.PlannedArticle{}, fmt.Errorf("%w: статус статьи %d изменился", domain.ErrIllegalTransition, art.ID)
	}
	prev := art.Status
	art.Status = domain.StatusArchived

	ev := domain.ArticleEvent{Type: domain.EventArticleArchived, ArticleID: art.ID, Status: art.Status, Metadata: map[string]any{"from": string(prev)}}
	if m, err := o.deps.Topics.GetTopicMap(ctx, art.MapID); err == nil {
		ev.ProjectID = m.ProjectID
	}
	o.emit(ctx, ev)
	return art, nil
}

// Republish повторно публикует готовую статью на площадку автоматизации.
// Ошибка публикации переводит статью в failed.
func (o *Orchestrator) Republish(ctx context.Context, automationID, articleID int64) (domain.PlannedArticle, error) {
	a, err := o.deps.Automations.GetAutomation(ctx, automationID)
	if err != nil {
		return domain.PlannedArticle{}, fmt.Errorf("получение автоматизации: %w", err)
	}
	art, err := o.deps.Articles.GetArticle(ctx, articleID)
	if err != nil {
		return domain.PlannedArticle{}, fmt.Errorf("получение статьи: %w", err)
	}
	if art.MapID != a.TopicMapID {
		return domain.PlannedArticle{}, fmt.Errorf("статья %d не принадлежит автоматизации %d: %w", articleID, automationID, domain.ErrNotFound)
	}
	if art.Status != domain.StatusGenerated && art.Status != domain.StatusPublished {
		return domain.PlannedArticle{}, fmt.Errorf("%w: публикация из статуса %s", domain.ErrIllegalTransition, art.Status)
	}
	if o.deps.Publisher == nil || a.Target.Kind == domain.PublishTargetNone || a.Target.Kind == "" {
		return domain.PlannedArticle{}, fmt.Errorf("%w: автоматизация %d", ErrNoPublishTarget, a.ID)
	}
	if o.deps.Contents == nil || art.ContentRef == "" {
		return domain.PlannedArticle{}, fmt.Errorf("текст статьи %d недоступен: %w", art.ID, domain.ErrNotFound)
	}
	body, err := o.deps.Contents.Load(ctx, art.ContentRef)
	if err != nil {
		return domain.PlannedArticle{}, fmt.Errorf("чтение текста статьи: %w", err)
	}

	scope := batchScope{automation: a}
	run := &itemRun{article: art, status: art.Status, claimed: true, publishing: true}
	url, err := o.publish(ctx, a.Target, art, string(body))
	if err != nil {
		res := o.fail(ctx, scope, run, err)
		art.Status = res.Status
		art.LastError = res.Error
		return art, err
	}

	publishedAt := o.now()
	if err := o.move(ctx, run, domain.StatusPublished, domain.ArticleUpdate{PublishedURL: &url, PublishedAt: &publishedAt}); err != nil {
		return domain.PlannedArticle{}, err
	}
	art.Status = domain.StatusPublished
	art.PublishedURL = url
	art.PublishedAt = &publishedAt

	ev := o.event(domain.EventArticlePublished, scope, art.ID, art.Status)
	ev.URL = url
	o.emit(ctx, ev)
	return art, nil
}
