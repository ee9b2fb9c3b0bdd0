package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-autopilot/internal/adapters/memstore"
	"content-autopilot/internal/domain"
	"content-autopilot/internal/usecase/credits"
)

var errProvider = errors.New("provider 503")

type fakeGenerator struct {
	mu     sync.Mutex
	fail   map[string]bool
	panics map[string]bool
	calls  []string
	onCall func(title string)
}

func (g *fakeGenerator) Generate(_ context.Context, req domain.GenerationRequest) (domain.GeneratedContent, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req.Title)
	fail, boom, hook := g.fail[req.Title], g.panics[req.Title], g.onCall
	g.mu.Unlock()
	if hook != nil {
		hook(req.Title)
	}
	if boom {
		panic("generator exploded")
	}
	if fail {
		return domain.GeneratedContent{}, errProvider
	}
	return domain.GeneratedContent{Content: "<p>" + req.Title + "</p>", WordCount: 2}, nil
}

func (g *fakeGenerator) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type fakePublisher struct {
	mu    sync.Mutex
	err   error
	count int
}

func (p *fakePublisher) Publish(_ context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return domain.PublishResult{}, p.err
	}
	p.count++
	return domain.PublishResult{URL: fmt.Sprintf("https://blog.example.com/%s/%d", req.Article.Slug, p.count)}, nil
}

type refresherFunc func(ctx context.Context, mapID int64, count int) (domain.TopicMapDelta, error)

func (f refresherFunc) Refresh(ctx context.Context, mapID int64, count int) (domain.TopicMapDelta, error) {
	return f(ctx, mapID, count)
}

type env struct {
	store      *memstore.Store
	contents   *memstore.Contents
	events     *memstore.Events
	ledger     *credits.Ledger
	gen        *fakeGenerator
	pub        *fakePublisher
	cfg        Config
	deps       Deps
	orch       *Orchestrator
	automation domain.Automation
	articles   []domain.PlannedArticle
	now        time.Time
}

func newEnv(t *testing.T, priorities []int, balance int64, mutate func(*domain.Automation, *Config)) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{
		store:    memstore.New(),
		contents: memstore.NewContents(),
		events:   &memstore.Events{},
		gen:      &fakeGenerator{fail: map[string]bool{}, panics: map[string]bool{}},
		pub:      &fakePublisher{},
		cfg:      DefaultConfig(),
		now:      time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
	e.ledger = credits.NewLedger(e.store, zerolog.Nop())

	var articles []domain.PlannedArticle
	for i, p := range priorities {
		title := fmt.Sprintf("article %d", i+1)
		articles = append(articles, domain.PlannedArticle{Title: title, Slug: fmt.Sprintf("article-%d", i+1), Priority: p, Status: domain.StatusPlanned})
	}
	m, err := e.store.CreateTopicMap(ctx, domain.TopicMap{ProjectID: 1, Niche: "coffee", Orphans: articles})
	require.NoError(t, err)
	e.articles = m.Orphans

	a := domain.Automation{
		ProjectID:      1,
		TopicMapID:     m.ID,
		Enabled:        true,
		Rule:           domain.CadenceRule{Frequency: domain.FrequencyDaily, TimeOfDay: "09:00"},
		Schedule:       domain.ScheduleState{NextRunAt: e.now.Add(-time.Minute)},
		ArticlesPerRun: 5,
		Target:         domain.PublishTarget{Kind: domain.PublishTargetNone},
	}
	if mutate != nil {
		mutate(&a, &e.cfg)
	}
	e.automation, err = e.store.CreateAutomation(ctx, a)
	require.NoError(t, err)

	_, err = e.store.SetSubscriptionBalance(ctx, 1, balance)
	require.NoError(t, err)

	e.deps = Deps{
		Automations: e.store,
		Topics:      e.store,
		Articles:    e.store,
		Batches:     e.store,
		Ledger:      e.ledger,
		Generator:   e.gen,
		Publisher:   e.pub,
		Contents:    e.contents,
		Events:      e.events,
	}
	e.build()
	return e
}

func (e *env) build() {
	e.orch = New(e.deps, e.cfg, zerolog.Nop()).WithClock(func() time.Time { return e.now })
}

func (e *env) article(t *testing.T, i int) domain.PlannedArticle {
	t.Helper()
	art, err := e.store.GetArticle(context.Background(), e.articles[i].ID)
	require.NoError(t, err)
	return art
}

func (e *env) balance(t *testing.T) int64 {
	t.Helper()
	acc, err := e.ledger.Balance(context.Background(), 1)
	require.NoError(t, err)
	return acc.Available()
}

func TestBatchIsolatesFailedItem(t *testing.T) {
	e := newEnv(t, []int{5, 5, 5, 5, 5}, 10, nil)
	e.gen.fail["article 3"] = true

	report, err := e.orch.RunDue(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Batches, 1)

	batch := report.Batches[0]
	assert.Equal(t, 4, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Len(t, batch.Items, 5)
	assert.Len(t, e.gen.Calls(), 5)

	for i := range e.articles {
		art := e.article(t, i)
		if i == 2 {
			assert.Equal(t, domain.StatusFailed, art.Status)
			assert.Equal(t, 1, art.RetryCount)
			assert.Contains(t, art.LastError, "provider 503")
			continue
		}
		assert.Equal(t, domain.StatusGenerated, art.Status)
		assert.NotEmpty(t, art.ContentRef)
		assert.Equal(t, 2, art.WordCount)
	}
	assert.Len(t, e.store.Batches(), 1)
}

func TestPanicIsIsolatedAndItemFails(t *testing.T) {
	e := newEnv(t, []int{5, 5, 5}, 10, nil)
	e.gen.panics["article 2"] = true

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	assert.Equal(t, domain.StatusFailed, e.article(t, 1).Status, "статья не должна остаться в generating")
}

type panickingClaim struct {
	*memstore.Store
}

func (p panickingClaim) TransitionArticle(ctx context.Context, id int64, from, to domain.ArticleStatus, upd domain.ArticleUpdate) (bool, error) {
	if to == domain.StatusGenerating {
		panic("claim exploded")
	}
	return p.Store.TransitionArticle(ctx, id, from, to, upd)
}

func TestPanicBeforeClaimRefundsReservation(t *testing.T) {
	e := newEnv(t, []int{5}, 5, nil)
	e.deps.Articles = panickingClaim{e.store}
	e.build()

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, domain.OutcomeSkipped, batch.Items[0].Outcome)
	assert.Contains(t, batch.Items[0].Error, "claim exploded")

	assert.Equal(t, int64(5), e.balance(t))
	for _, r := range e.store.Reservations(1) {
		assert.NotNil(t, r.RefundedAt)
	}
	assert.Equal(t, domain.StatusPlanned, e.article(t, 0).Status)
	assert.Empty(t, e.gen.Calls())
}

func TestCreditBlockedItemsStayPlanned(t *testing.T) {
	e := newEnv(t, []int{9, 8, 7, 6, 5}, 2, func(_ *domain.Automation, cfg *Config) {
		cfg.Workers = 1
	})

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 3, batch.CreditBlocked)
	assert.Zero(t, batch.Failed)
	assert.Equal(t, domain.StatusGenerated, e.article(t, 0).Status)
	for i := 2; i < 5; i++ {
		assert.Equal(t, domain.StatusPlanned, e.article(t, i).Status)
	}
	assert.Zero(t, e.balance(t))
}

func TestRetryBudgetIsBounded(t *testing.T) {
	e := newEnv(t, []int{5}, 100, nil)
	e.gen.fail["article 1"] = true
	ctx := context.Background()

	_, err := e.orch.RunAutomation(ctx, e.automation, true)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := e.orch.RunAutomation(ctx, e.automation, false)
		require.NoError(t, err)
	}

	art := e.article(t, 0)
	assert.Equal(t, domain.StatusFailed, art.Status)
	assert.Equal(t, 3, art.RetryCount)
	assert.Len(t, e.gen.Calls(), 3)

	withRetries, err := e.store.ListAutomationsWithRetries(ctx, e.cfg.MaxRetries)
	require.NoError(t, err)
	assert.Empty(t, withRetries)
}

func TestPublishFailureMarksItemFailed(t *testing.T) {
	e := newEnv(t, []int{5}, 10, func(a *domain.Automation, _ *Config) {
		a.AutoPublish = true
		a.Target = domain.PublishTarget{Kind: domain.PublishTargetWordPress, Destination: "https://blog.example.com"}
	})
	e.pub.err = errProvider

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Failed)
	art := e.article(t, 0)
	assert.Equal(t, domain.StatusFailed, art.Status)
	assert.NotEmpty(t, art.ContentRef)
	assert.Equal(t, 1, art.RetryCount)
}

func TestPublishSuccessRecordsURL(t *testing.T) {
	e := newEnv(t, []int{5}, 10, func(a *domain.Automation, _ *Config) {
		a.AutoPublish = true
		a.Target = domain.PublishTarget{Kind: domain.PublishTargetWordPress, Destination: "https://blog.example.com"}
	})

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Succeeded)
	art := e.article(t, 0)
	assert.Equal(t, domain.StatusPublished, art.Status)
	assert.Equal(t, "https://blog.example.com/article-1/1", art.PublishedURL)
	require.NotNil(t, art.PublishedAt)

	var types []domain.ArticleEventType
	for _, ev := range e.events.List() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []domain.ArticleEventType{
		domain.EventArticleGenerating,
		domain.EventArticleGenerated,
		domain.EventArticlePublished,
		domain.EventBatchCompleted,
	}, types)
}

func TestScheduleRecomputedDespiteFailures(t *testing.T) {
	e := newEnv(t, []int{5, 5}, 10, nil)
	e.gen.fail["article 1"] = true
	e.gen.fail["article 2"] = true

	_, err := e.orch.RunDue(context.Background())
	require.NoError(t, err)

	a, err := e.store.GetAutomation(context.Background(), e.automation.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), a.Schedule.NextRunAt)
	require.NotNil(t, a.Schedule.LastRunAt)
	assert.Equal(t, e.now, *a.Schedule.LastRunAt)
}

type brokenArticles struct {
	*memstore.Store
}

func (b brokenArticles) ListBatchCandidates(context.Context, domain.CandidateQuery) ([]domain.PlannedArticle, error) {
	return nil, errors.New("connection reset")
}

func TestScheduleRecomputedOnSelectionError(t *testing.T) {
	e := newEnv(t, []int{5}, 10, nil)
	e.deps.Articles = brokenArticles{e.store}
	e.build()

	_, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.Error(t, err)

	a, err := e.store.GetAutomation(context.Background(), e.automation.ID)
	require.NoError(t, err)
	assert.True(t, a.Schedule.NextRunAt.After(e.now))
}

func TestDisabledAutomationIsSkipped(t *testing.T) {
	e := newEnv(t, []int{5, 5}, 10, nil)
	ctx := context.Background()
	require.NoError(t, e.store.SetEnabled(ctx, e.automation.ID, false, e.automation.Schedule.NextRunAt))

	report, err := e.orch.RunDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Batches)
	assert.Empty(t, e.gen.Calls())

	_, err = e.orch.RunAutomation(ctx, e.automation, true)
	assert.ErrorIs(t, err, domain.ErrAutomationDisabled)
}

func TestDisableMidBatchStopsNewItems(t *testing.T) {
	e := newEnv(t, []int{9, 8, 7}, 10, func(_ *domain.Automation, cfg *Config) {
		cfg.Workers = 1
	})
	e.gen.onCall = func(string) {
		_ = e.store.SetEnabled(context.Background(), e.automation.ID, false, e.now)
	}

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Succeeded, "статья в работе должна завершиться")
	assert.Equal(t, 2, batch.Skipped)
	assert.Equal(t, domain.StatusGenerated, e.article(t, 0).Status)
	assert.Equal(t, domain.StatusPlanned, e.article(t, 1).Status)
	assert.Equal(t, int64(9), e.balance(t))
}

func TestConcurrentSweepsDoNotDoubleReserve(t *testing.T) {
	e := newEnv(t, []int{5, 5, 5, 5, 5}, 100, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.orch.RunDue(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, e.gen.Calls(), 5)
	assert.Equal(t, int64(95), e.balance(t))
	active := 0
	for _, r := range e.store.Reservations(1) {
		if r.RefundedAt == nil {
			active++
		}
	}
	assert.Equal(t, 5, active)
	for i := range e.articles {
		assert.Equal(t, domain.StatusGenerated, e.article(t, i).Status)
	}
}

func TestSelectionOrdersByPriorityThenCreation(t *testing.T) {
	e := newEnv(t, []int{5, 9, 7, 9}, 10, func(a *domain.Automation, cfg *Config) {
		a.ArticlesPerRun = 3
		cfg.Workers = 1
	})

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"article 2", "article 4", "article 3"}, e.gen.Calls())
	assert.Equal(t, []int64{e.articles[1].ID, e.articles[3].ID, e.articles[2].ID}, batch.ArticleIDs)
	assert.Equal(t, domain.StatusPlanned, e.article(t, 0).Status)
}

func TestAutoRefreshWhenNothingPlanned(t *testing.T) {
	e := newEnv(t, nil, 10, func(a *domain.Automation, _ *Config) {
		a.AutoRefresh = true
		a.RefreshCount = 2
	})
	refreshed := 0
	e.deps.Planner = refresherFunc(func(ctx context.Context, mapID int64, count int) (domain.TopicMapDelta, error) {
		refreshed++
		var fresh []domain.PlannedArticle
		for i := 0; i < count; i++ {
			fresh = append(fresh, domain.PlannedArticle{Title: fmt.Sprintf("fresh %d", i), Priority: 5, Status: domain.StatusPlanned})
		}
		saved, err := e.store.AppendArticles(ctx, mapID, fresh)
		return domain.TopicMapDelta{MapID: mapID, Articles: saved}, err
	})
	e.build()

	batch, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, 2, batch.Succeeded)
}

func TestRefundOnFailurePolicy(t *testing.T) {
	e := newEnv(t, []int{5}, 5, func(_ *domain.Automation, cfg *Config) {
		cfg.RefundOnFailure = true
	})
	e.gen.fail["article 1"] = true

	_, err := e.orch.RunAutomation(context.Background(), e.automation, true)
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.balance(t))

	e2 := newEnv(t, []int{5}, 5, nil)
	e2.gen.fail["article 1"] = true
	_, err = e2.orch.RunAutomation(context.Background(), e2.automation, true)
	require.NoError(t, err)
	assert.Equal(t, int64(4), e2.balance(t), "по умолчанию кредиты не возвращаются")
}

func TestRetryOnlyAutomationKeepsSchedule(t *testing.T) {
	e := newEnv(t, []int{5, 5}, 10, func(a *domain.Automation, _ *Config) {
		a.Schedule.NextRunAt = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	})
	ctx := context.Background()
	failed := e.articles[0]
	_, err := e.store.TransitionArticle(ctx, failed.ID, domain.StatusPlanned, domain.StatusGenerating, domain.ArticleUpdate{})
	require.NoError(t, err)
	_, err = e.store.TransitionArticle(ctx, failed.ID, domain.StatusGenerating, domain.StatusFailed, domain.ArticleUpdate{IncrementRetry: true})
	require.NoError(t, err)

	report, err := e.orch.RunDue(ctx)
	require.NoError(t, err)
	require.Len(t, report.Batches, 1)
	assert.False(t, report.Batches[0].Due)
	assert.Equal(t, []string{"article 1"}, e.gen.Calls(), "не due пакет берёт только повторы")

	a, err := e.store.GetAutomation(ctx, e.automation.ID)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), a.Schedule.NextRunAt)
	assert.Equal(t, domain.StatusPlanned, e.article(t, 1).Status)
}

func TestArchive(t *testing.T) {
	e := newEnv(t, []int{5, 5}, 10, nil)
	ctx := context.Background()

	art, err := e.orch.Archive(ctx, e.articles[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusArchived, art.Status)

	_, err = e.store.TransitionArticle(ctx, e.articles[1].ID, domain.StatusPlanned, domain.StatusGenerating, domain.ArticleUpdate{})
	require.NoError(t, err)
	_, err = e.orch.Archive(ctx, e.articles[1].ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	_, err = e.orch.Archive(ctx, e.articles[0].ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestRepublish(t *testing.T) {
	e := newEnv(t, []int{5}, 10, func(a *domain.Automation, _ *Config) {
		a.AutoPublish = true
		a.Target = domain.PublishTarget{Kind: domain.PublishTargetTelegram, Destination: "@coffee"}
	})
	ctx := context.Background()
	_, err := e.orch.RunAutomation(ctx, e.automation, true)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, e.article(t, 0).Status)

	art, err := e.orch.Republish(ctx, e.automation.ID, e.articles[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, art.Status)
	assert.Equal(t, "https://blog.example.com/article-1/2", e.article(t, 0).PublishedURL)

	e.pub.err = errProvider
	_, err = e.orch.Republish(ctx, e.automation.ID, e.articles[0].ID)
	require.Error(t, err)
	assert.Equal(t, domain.StatusFailed, e.article(t, 0).Status)
}
