package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-autopilot/internal/domain"
)

func sampleMap() domain.TopicMap {
	return domain.TopicMap{
		ProjectID: 1,
		Niche:     "coffee",
		Pillars: []domain.Pillar{{
			Title: "Brewing",
			Subtopics: []domain.Subtopic{{
				Title: "Pour over",
				Articles: []domain.PlannedArticle{
					{Title: "Pour over basics", Slug: "pour-over-basics", Priority: 5},
					{Title: "Best pour over kettles", Slug: "best-pour-over-kettles", Priority: 9},
				},
			}},
		}},
		Orphans: []domain.PlannedArticle{{Title: "Coffee history", Slug: "coffee-history", Priority: 7}},
	}
}

func TestTopicMapRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()

	created, err := store.CreateTopicMap(ctx, sampleMap())
	require.NoError(t, err)
	require.Len(t, created.Pillars, 1)
	require.Len(t, created.Pillars[0].Subtopics, 1)
	require.Len(t, created.Pillars[0].Subtopics[0].Articles, 2)
	require.Len(t, created.Orphans, 1)

	sub := created.Pillars[0].Subtopics[0]
	art := sub.Articles[0]
	require.NotNil(t, art.SubtopicID)
	assert.Equal(t, sub.ID, *art.SubtopicID)
	assert.Equal(t, domain.StatusPlanned, art.Status)
	assert.Nil(t, created.Orphans[0].SubtopicID)

	byProject, err := store.GetTopicMapByProject(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byProject.ID)
	assert.Len(t, byProject.AllArticles(), 3)

	appended, err := store.AppendArticles(ctx, created.ID, []domain.PlannedArticle{{Title: "Cold brew", SubtopicID: &sub.ID, PillarID: art.PillarID}})
	require.NoError(t, err)
	require.Len(t, appended, 1)

	reloaded, err := store.GetTopicMap(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.Pillars[0].Subtopics[0].Articles, 3)

	require.NoError(t, store.DeleteTopicMap(ctx, created.ID))
	_, err = store.GetArticle(ctx, art.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetTopicMap(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListBatchCandidatesOrdering(t *testing.T) {
	ctx := context.Background()
	store := New()
	created, err := store.CreateTopicMap(ctx, sampleMap())
	require.NoError(t, err)

	all := created.AllArticles()
	failed := all[0]
	ok, err := store.TransitionArticle(ctx, failed.ID, domain.StatusPlanned, domain.StatusGenerating, domain.ArticleUpdate{})
	require.NoError(t, err)
	require.True(t, ok)
	msg := "timeout"
	ok, err = store.TransitionArticle(ctx, failed.ID, domain.StatusGenerating, domain.StatusFailed, domain.ArticleUpdate{LastError: &msg, IncrementRetry: true})
	require.NoError(t, err)
	require.True(t, ok)

	list, err := store.ListBatchCandidates(ctx, domain.CandidateQuery{MapID: created.ID, IncludePlanned: true, MaxRetries: 3, Limit: 5})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 9, list[0].Priority)
	assert.Equal(t, 7, list[1].Priority)
	assert.Equal(t, domain.StatusFailed, list[2].Status)
	assert.Equal(t, 1, list[2].RetryCount)

	retries, err := store.ListBatchCandidates(ctx, domain.CandidateQuery{MapID: created.ID, MaxRetries: 1})
	require.NoError(t, err)
	assert.Empty(t, retries)
}

func TestTransitionArticleGuards(t *testing.T) {
	ctx := context.Background()
	store := New()
	created, err := store.CreateTopicMap(ctx, sampleMap())
	require.NoError(t, err)
	id := created.Orphans[0].ID

	_, err = store.TransitionArticle(ctx, id, domain.StatusGenerated, domain.StatusGenerating, domain.ArticleUpdate{})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	ok, err := store.TransitionArticle(ctx, id, domain.StatusFailed, domain.StatusGenerating, domain.ArticleUpdate{})
	require.NoError(t, err)
	assert.False(t, ok, "статус planned не должен совпасть с failed")
}

func TestTransitionArticleSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := New()
	created, err := store.CreateTopicMap(ctx, sampleMap())
	require.NoError(t, err)
	id := created.Orphans[0].ID

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.TransitionArticle(ctx, id, domain.StatusPlanned, domain.StatusGenerating, domain.ArticleUpdate{})
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestDueAndRetryAutomations(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	created, err := store.CreateTopicMap(ctx, sampleMap())
	require.NoError(t, err)

	due, err := store.CreateAutomation(ctx, domain.Automation{Enabled: true, TopicMapID: 99, Schedule: domain.ScheduleState{NextRunAt: now}})
	require.NoError(t, err)
	_, err = store.CreateAutomation(ctx, domain.Automation{Enabled: false, Schedule: domain.ScheduleState{NextRunAt: now.Add(-time.Hour)}})
	require.NoError(t, err)
	retry, err := store.CreateAutomation(ctx, domain.Automation{Enabled: true, TopicMapID: created.ID, Schedule: domain.ScheduleState{NextRunAt: now.Add(time.Hour)}})
	require.NoError(t, err)

	list, err := store.ListDueAutomations(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	id := created.Orphans[0].ID
	_, err = store.TransitionArticle(ctx, id, domain.StatusPlanned, domain.StatusGenerating, domain.ArticleUpdate{})
	require.NoError(t, err)
	_, err = store.TransitionArticle(ctx, id, domain.StatusGenerating, domain.StatusFailed, domain.ArticleUpdate{IncrementRetry: true})
	require.NoError(t, err)

	withRetries, err := store.ListAutomationsWithRetries(ctx, 3)
	require.NoError(t, err)
	require.Len(t, withRetries, 1)
	assert.Equal(t, retry.ID, withRetries[0].ID)
}

func TestCreditStoreRefundOnce(t *testing.T) {
	ctx := context.Background()
	store := New()
	_, err := store.SetSubscriptionBalance(ctx, 1, 3)
	require.NoError(t, err)
	_, err = store.AddCredits(ctx, 1, domain.CreditPoolTopUp, 5, true)
	require.NoError(t, err)

	r, ok, err := store.ReserveCredits(ctx, domain.ReservationRequest{ID: "r1", ProjectID: 1, Cost: 6, At: time.Now()})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), r.FromSubscription)
	assert.Equal(t, int64(3), r.FromTopUp)

	_, refunded, err := store.RefundReservation(ctx, "r1", time.Now())
	require.NoError(t, err)
	assert.True(t, refunded)
	_, refunded, err = store.RefundReservation(ctx, "r1", time.Now())
	require.NoError(t, err)
	assert.False(t, refunded)

	acc, err := store.GetCreditAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), acc.SubscriptionBalance)
	assert.Equal(t, int64(5), acc.TopUpBalance)
	assert.Equal(t, int64(5), acc.TotalPurchased)
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	cache := NewCache()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Minute)
	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)
}

func TestContentsSaveLoad(t *testing.T) {
	ctx := context.Background()
	contents := NewContents()
	ref, err := contents.Save(ctx, "articles/1.html", []byte("<p>hi</p>"))
	require.NoError(t, err)
	assert.Equal(t, "mem://articles/1.html", ref)
	data, err := contents.Load(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "<p>hi</p>", string(data))
}
