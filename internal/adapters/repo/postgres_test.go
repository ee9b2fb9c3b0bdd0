package repo

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-autopilot/internal/domain"
)

func TestCandidatesQueryWithPlanned(t *testing.T) {
	query, args, err := candidatesQuery(domain.CandidateQuery{MapID: 7, IncludePlanned: true, MaxRetries: 3, Limit: 5}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "FROM planned_articles")
	assert.Contains(t, query, "WHERE map_id = $1")
	assert.Contains(t, query, "(status = $2 OR (status = $3 AND retry_count < $4))")
	assert.True(t, strings.HasSuffix(query, "ORDER BY priority DESC, created_at ASC, id ASC LIMIT 5"), query)
	assert.Equal(t, []any{int64(7), "planned", "failed", 3}, args)
}

func TestCandidatesQueryRetriesOnly(t *testing.T) {
	query, args, err := candidatesQuery(domain.CandidateQuery{MapID: 2, MaxRetries: 1}).ToSql()
	require.NoError(t, err)

	assert.NotContains(t, query, "LIMIT")
	assert.Contains(t, query, "(status = $2 AND retry_count < $3)")
	assert.Equal(t, []any{int64(2), "failed", 1}, args)
}

func TestTransitionQueryGuardsOnCurrentStatus(t *testing.T) {
	ref := "s3://bucket/a.html"
	words := 1200
	query, args, err := transitionQuery(11, domain.StatusGenerating, domain.StatusGenerated, domain.ArticleUpdate{
		ContentRef: &ref,
		WordCount:  &words,
	}).ToSql()
	require.NoError(t, err)

	assert.Equal(t, "UPDATE planned_articles SET status = $1, updated_at = now(), content_ref = $2, word_count = $3 WHERE id = $4 AND status = $5", query)
	assert.Equal(t, []any{"generated", ref, words, int64(11), "generating"}, args)
}

func TestTransitionQueryIncrementsRetry(t *testing.T) {
	msg := "timeout"
	query, args, err := transitionQuery(3, domain.StatusGenerating, domain.StatusFailed, domain.ArticleUpdate{
		LastError:      &msg,
		IncrementRetry: true,
	}).ToSql()
	require.NoError(t, err)

	assert.Contains(t, query, "retry_count = retry_count + 1")
	assert.Contains(t, query, "last_error = $2")
	assert.Equal(t, []any{"failed", msg, int64(3), "generating"}, args)
}

func TestNotFoundMapsNoRows(t *testing.T) {
	assert.ErrorIs(t, notFound(pgx.ErrNoRows), domain.ErrNotFound)
	other := errors.New("boom")
	assert.Equal(t, other, notFound(other))
}
