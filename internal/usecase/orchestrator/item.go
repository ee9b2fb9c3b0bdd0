package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"content-autopilot/internal/domain"
)

// itemRun хранит состояние обработки одной статьи, чтобы восстановиться после паники.
type itemRun struct {
	article     domain.PlannedArticle
	status      domain.ArticleStatus
	claimed     bool
	publishing  bool
	reservation string
}

// safeProcess изолирует панику одной статьи от остального пакета.
func (o *Orchestrator) safeProcess(ctx context.Context, scope batchScope, art domain.PlannedArticle) (res domain.BatchItemResult) {
	run := &itemRun{article: art, status: art.Status}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			o.logger.Error().Err(err).Int64("article_id", art.ID).Str("batch_id", scope.batchID).Msg("orchestrator: паника при обработке статьи")
			if run.claimed && (run.status == domain.StatusGenerating || run.publishing) {
				res = o.fail(ctx, scope, run, err)
				return
			}
			if run.reservation != "" && !run.claimed {
				o.refund(ctx, run.reservation)
			}
			res = domain.BatchItemResult{ArticleID: art.ID, Outcome: domain.OutcomeSkipped, Status: run.status, Error: err.Error()}
		}
	}()
	return o.processItem(ctx, scope, run)
}

func (o *Orchestrator) processItem(ctx context.Context, scope batchScope, run *itemRun) domain.BatchItemResult {
	art := run.article
	a := scope.automation
	ctx, span := o.tracer.Start(ctx, "orchestrator.processItem", trace.WithAttributes(
		attribute.Int64("article_id", art.ID),
		attribute.String("status", string(art.Status)),
	))
	defer span.End()
	skipped := func(reason string) domain.BatchItemResult {
		return domain.BatchItemResult{ArticleID: art.ID, Outcome: domain.OutcomeSkipped, Status: run.status, Error: reason}
	}

	current, err := o.deps.Automations.GetAutomation(ctx, a.ID)
	if err != nil {
		return skipped(fmt.Sprintf("получение автоматизации: %v", err))
	}
	if !current.Enabled {
		return skipped(domain.ErrAutomationDisabled.Error())
	}
	if art.Status == domain.StatusFailed && art.RetryCount >= o.cfg.MaxRetries {
		return skipped("исчерпан лимит повторов")
	}

	reserved, err := o.deps.Ledger.CheckAndReserve(ctx, a.ProjectID, art.ID, o.cfg.CreditCost)
	if err != nil {
		span.RecordError(err)
		return skipped(err.Error())
	}
	if !reserved.Granted {
		return domain.BatchItemResult{ArticleID: art.ID, Outcome: domain.OutcomeCreditBlocked, Status: art.Status}
	}
	run.reservation = reserved.Reservation.ID

	claimed, err := o.deps.Articles.TransitionArticle(ctx, art.ID, art.Status, domain.StatusGenerating, domain.ArticleUpdate{})
	if err != nil || !claimed {
		o.refund(ctx, run.reservation)
		if err != nil {
			return skipped(fmt.Sprintf("захват статьи: %v", err))
		}
		return skipped("статья уже обрабатывается")
	}
	run.claimed = true
	run.status = domain.StatusGenerating
	o.emit(ctx, o.event(domain.EventArticleGenerating, scope, art.ID, run.status))

	content, err := o.generate(ctx, scope, art)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if o.cfg.RefundOnFailure {
			o.refund(ctx, run.reservation)
		}
		return o.fail(ctx, scope, run, err)
	}

	ref, err := o.storeContent(ctx, scope, art, content)
	if err != nil {
		if o.cfg.RefundOnFailure {
			o.refund(ctx, run.reservation)
		}
		return o.fail(ctx, scope, run, err)
	}

	words := content.WordCount
	if err := o.move(ctx, run, domain.StatusGenerated, domain.ArticleUpdate{ContentRef: &ref, WordCount: &words}); err != nil {
		return o.fail(ctx, scope, run, err)
	}
	o.emit(ctx, o.event(domain.EventArticleGenerated, scope, art.ID, run.status))

	if !current.AutoPublish || current.Target.Kind == domain.PublishTargetNone || o.deps.Publisher == nil {
		return domain.BatchItemResult{ArticleID: art.ID, Outcome: domain.OutcomeSucceeded, Status: run.status}
	}

	art.ContentRef = ref
	art.WordCount = words
	run.publishing = true
	url, err := o.publish(ctx, current.Target, art, content.Content)
	if err != nil {
		span.RecordError(err)
		return o.fail(ctx, scope, run, err)
	}
	publishedAt := o.now()
	if err := o.move(ctx, run, domain.StatusPublished, domain.ArticleUpdate{PublishedURL: &url, PublishedAt: &publishedAt}); err != nil {
		return o.fail(ctx, scope, run, err)
	}
	run.publishing = false
	ev := o.event(domain.EventArticlePublished, scope, art.ID, run.status)
	ev.URL = url
	o.emit(ctx, ev)
	return domain.BatchItemResult{ArticleID: art.ID, Outcome: domain.OutcomeSucceeded, Status: run.status}
}

func (o *Orchestrator) generate(ctx context.Context, scope batchScope, art domain.PlannedArticle) (domain.GeneratedContent, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
	defer cancel()
	content, err := o.deps.Generator.Generate(ctx, domain.GenerationRequest{
		ArticleID:         art.ID,
		Title:             art.Title,
		FocusKeyword:      art.FocusKeyword,
		SecondaryKeywords: art.SecondaryKeywords,
		ContentType:       art.ContentType,
		TargetWordCount:   art.TargetWordCount,
		Niche:             scope.niche,
		Audience:          scope.audience,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.GeneratedContent{}, fmt.Errorf("генерация: превышен таймаут %s", o.cfg.GenerateTimeout)
		}
		return domain.GeneratedContent{}, fmt.Errorf("генерация: %w", err)
	}
	if content.Content == "" {
		return domain.GeneratedContent{}, errors.New("генерация: пустой текст")
	}
	return content, nil
}

func (o *Orchestrator) storeContent(ctx context.Context, scope batchScope, art domain.PlannedArticle, content domain.GeneratedContent) (string, error) {
	if o.deps.Contents == nil {
		return "", nil
	}
	key := fmt.Sprintf("projects/%d/articles/%d/%s.html", scope.automation.ProjectID, art.ID, scope.batchID)
	ref, err := o.deps.Contents.Save(ctx, key, []byte(content.Content))
	if err != nil {
		return "", fmt.Errorf("сохранение текста: %w", err)
	}
	return ref, nil
}

func (o *Orchestrator) publish(ctx context.Context, target domain.PublishTarget, art domain.PlannedArticle, content string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	defer cancel()
	res, err := o.deps.Publisher.Publish(ctx, domain.PublishRequest{Article: art, Content: content, Target: target})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("публикация: превышен таймаут %s", o.cfg.PublishTimeout)
		}
		return "", fmt.Errorf("публикация: %w", err)
	}
	return res.URL, nil
}

// move применяет переход из текущего статуса прогона.
func (o *Orchestrator) move(ctx context.Context, run *itemRun, to domain.ArticleStatus, upd domain.ArticleUpdate) error {
	ok, err := o.deps.Articles.TransitionArticle(ctx, run.article.ID, run.status, to, upd)
	if err != nil {
		return fmt.Errorf("переход %s → %s: %w", run.status, to, err)
	}
	if !ok {
		return fmt.Errorf("переход %s → %s: статус изменён извне", run.status, to)
	}
	run.status = to
	return nil
}

// fail переводит захваченную статью в failed и увеличивает счётчик повторов.
// Хранилище вызывается без контекста отмены, чтобы статья не осталась в generating.
func (o *Orchestrator) fail(ctx context.Context, scope batchScope, run *itemRun, cause error) domain.BatchItemResult {
	msg := cause.Error()
	res := domain.BatchItemResult{ArticleID: run.article.ID, Outcome: domain.OutcomeFailed, Status: domain.StatusFailed, Error: msg}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scheduleUpdateTimeout)
	defer cancel()
	if err := o.move(storeCtx, run, domain.StatusFailed, domain.ArticleUpdate{LastError: &msg, IncrementRetry: true}); err != nil {
		o.logger.Error().Err(err).Int64("article_id", run.article.ID).Msg("orchestrator: не удалось отметить ошибку статьи")
		res.Status = run.status
	}
	run.publishing = false
	o.logger.Warn().Str("batch_id", scope.batchID).Int64("article_id", run.article.ID).Str("error", msg).Msg("orchestrator: статья завершилась ошибкой")

	ev := o.event(domain.EventArticleFailed, scope, run.article.ID, res.Status)
	ev.Error = msg
	o.emit(storeCtx, ev)
	return res
}

func (o *Orchestrator) refund(ctx context.Context, reservationID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), scheduleUpdateTimeout)
	defer cancel()
	if _, err := o.deps.Ledger.Refund(ctx, reservationID); err != nil {
		o.logger.Error().Err(err).Str("reservation_id", reservationID).Msg("orchestrator: не удалось вернуть кредиты")
	}
}

func (o *Orchestrator) event(kind domain.ArticleEventType, scope batchScope, articleID int64, status domain.ArticleStatus) domain.ArticleEvent {
	return domain.ArticleEvent{
		Type:         kind,
		ProjectID:    scope.automation.ProjectID,
		AutomationID: scope.automation.ID,
		ArticleID:    articleID,
		BatchID:      scope.batchID,
		Status:       status,
		OccurredAt:   o.now(),
	}
}

