package repo

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const articleColumns = `id, map_id, pillar_id, subtopic_id, title, slug, focus_keyword, secondary_keywords,
search_volume, difficulty, cpc, competition, target_word_count, priority, content_type, status,
retry_count, last_error, content_ref, word_count, published_url, published_at, created_at, updated_at`

func scanArticle(row rowScanner) (domain.PlannedArticle, error) {
	var (
		a       domain.PlannedArticle
		kind    string
		status  string
		secKeys []string
	)
	err := row.Scan(&a.ID, &a.MapID, &a.PillarID, &a.SubtopicID, &a.Title, &a.Slug, &a.FocusKeyword, &secKeys,
		&a.Metrics.SearchVolume, &a.Metrics.Difficulty, &a.Metrics.CPC, &a.Metrics.Competition, &a.TargetWordCount, &a.Priority, &kind, &status,
		&a.RetryCount, &a.LastError, &a.ContentRef, &a.WordCount, &a.PublishedURL, &a.PublishedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return domain.PlannedArticle{}, err
	}
	a.ContentType = domain.ContentType(kind)
	a.Status = domain.ArticleStatus(status)
	a.SecondaryKeywords = secKeys
	return a, nil
}

func insertArticle(ctx context.Context, tx pgx.Tx, mapID int64, pillarID, subtopicID *int64, a domain.PlannedArticle) (domain.PlannedArticle, bool, error) {
	status := a.Status
	if status == "" {
		status = domain.StatusPlanned
	}
	secondary := a.SecondaryKeywords
	if secondary == nil {
		secondary = []string{}
	}
	start := time.Now()
	row := tx.QueryRow(ctx, `
INSERT INTO planned_articles (map_id, pillar_id, subtopic_id, title, slug, focus_keyword, secondary_keywords,
  search_volume, difficulty, cpc, competition, target_word_count, priority, content_type, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (map_id, slug) DO NOTHING
RETURNING `+articleColumns,
		mapID, pillarID, subtopicID, a.Title, a.Slug, a.FocusKeyword, secondary,
		a.Metrics.SearchVolume, a.Metrics.Difficulty, a.Metrics.CPC, a.Metrics.Competition, a.TargetWordCount, a.Priority, string(a.ContentType), string(status))
	created, err := scanArticle(row)
	metrics.ObserveNetworkRequest("postgres", "planned_articles_insert", "planned_articles", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PlannedArticle{}, false, nil
	}
	if err != nil {
		return domain.PlannedArticle{}, false, err
	}
	return created, true, nil
}

// CreateTopicMap сохраняет карту со всеми узлами в одной транзакции.
func (p *Postgres) CreateTopicMap(ctx context.Context, m domain.TopicMap) (domain.TopicMap, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "topic_maps", start, err)
	if err != nil {
		return domain.TopicMap{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	keywords := m.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO topic_maps (project_id, niche, audience, keywords, require_approval)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, created_at, updated_at
`, m.ProjectID, m.Niche, m.Audience, keywords, m.RequireApproval).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "topic_maps_insert", "topic_maps", start, err)
	if err != nil {
		return domain.TopicMap{}, err
	}

	for pi := range m.Pillars {
		pillar := &m.Pillars[pi]
		pillar.MapID = m.ID
		start = time.Now()
		err = tx.QueryRow(ctx, `INSERT INTO pillars (map_id, title, keyword, position) VALUES ($1, $2, $3, $4) RETURNING id`,
			m.ID, pillar.Title, pillar.Keyword, pillar.Position).Scan(&pillar.ID)
		metrics.ObserveNetworkRequest("postgres", "pillars_insert", "pillars", start, err)
		if err != nil {
			return domain.TopicMap{}, err
		}
		for si := range pillar.Subtopics {
			sub := &pillar.Subtopics[si]
			sub.PillarID = pillar.ID
			start = time.Now()
			err = tx.QueryRow(ctx, `INSERT INTO subtopics (pillar_id, title, keyword, position) VALUES ($1, $2, $3, $4) RETURNING id`,
				pillar.ID, sub.Title, sub.Keyword, sub.Position).Scan(&sub.ID)
			metrics.ObserveNetworkRequest("postgres", "subtopics_insert", "subtopics", start, err)
			if err != nil {
				return domain.TopicMap{}, err
			}
			articles := make([]domain.PlannedArticle, 0, len(sub.Articles))
			for _, art := range sub.Articles {
				created, ok, err := insertArticle(ctx, tx, m.ID, &pillar.ID, &sub.ID, art)
				if err != nil {
					return domain.TopicMap{}, err
				}
				if ok {
					articles = append(articles, created)
				}
			}
			sub.Articles = articles
		}
	}
	orphans := make([]domain.PlannedArticle, 0, len(m.Orphans))
	for _, art := range m.Orphans {
		created, ok, err := insertArticle(ctx, tx, m.ID, art.PillarID, nil, art)
		if err != nil {
			return domain.TopicMap{}, err
		}
		if ok {
			orphans = append(orphans, created)
		}
	}
	m.Orphans = orphans

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "topic_maps", start, err)
	if err != nil {
		return domain.TopicMap{}, err
	}
	return m, nil
}

// GetTopicMap собирает карту с узлами и статьями.
func (p *Postgres) GetTopicMap(ctx context.Context, id int64) (domain.TopicMap, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.loadTopicMap(ctx, `id = $1`, id)
}

// GetTopicMapByProject возвращает самую раннюю карту проекта.
func (p *Postgres) GetTopicMapByProject(ctx context.Context, projectID int64) (domain.TopicMap, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	return p.loadTopicMap(ctx, `project_id = $1`, projectID)
}

func (p *Postgres) loadTopicMap(ctx context.Context, where string, arg int64) (domain.TopicMap, error) {
	var m domain.TopicMap
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, project_id, niche, audience, keywords, require_approval, created_at, updated_at
FROM topic_maps WHERE `+where+` ORDER BY id LIMIT 1
`, arg).Scan(&m.ID, &m.ProjectID, &m.Niche, &m.Audience, &m.Keywords, &m.RequireApproval, &m.CreatedAt, &m.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "topic_maps_get", "topic_maps", start, err)
	if err != nil {
		return domain.TopicMap{}, notFound(err)
	}

	start = time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT p.id, p.title, p.keyword, p.position, s.id, s.title, s.keyword, s.position
FROM pillars p
LEFT JOIN subtopics s ON s.pillar_id = p.id
WHERE p.map_id = $1
ORDER BY p.position, p.id, s.position, s.id
`, m.ID)
	metrics.ObserveNetworkRequest("postgres", "pillars_list", "pillars", start, err)
	if err != nil {
		return domain.TopicMap{}, err
	}
	index := make(map[int64][2]int)
	for rows.Next() {
		var (
			pillar   domain.Pillar
			subID    *int64
			subTitle *string
			subKey   *string
			subPos   *int
		)
		if err := rows.Scan(&pillar.ID, &pillar.Title, &pillar.Keyword, &pillar.Position, &subID, &subTitle, &subKey, &subPos); err != nil {
			rows.Close()
			return domain.TopicMap{}, err
		}
		if n := len(m.Pillars); n == 0 || m.Pillars[n-1].ID != pillar.ID {
			pillar.MapID = m.ID
			m.Pillars = append(m.Pillars, pillar)
		}
		if subID == nil {
			continue
		}
		pi := len(m.Pillars) - 1
		m.Pillars[pi].Subtopics = append(m.Pillars[pi].Subtopics, domain.Subtopic{
			ID:       *subID,
			PillarID: pillar.ID,
			Title:    deref(subTitle),
			Keyword:  deref(subKey),
			Position: derefInt(subPos),
		})
		index[*subID] = [2]int{pi, len(m.Pillars[pi].Subtopics) - 1}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.TopicMap{}, err
	}

	start = time.Now()
	rows, err = p.pool.Query(ctx, `SELECT `+articleColumns+` FROM planned_articles WHERE map_id = $1 ORDER BY id`, m.ID)
	metrics.ObserveNetworkRequest("postgres", "planned_articles_list", "planned_articles", start, err)
	if err != nil {
		return domain.TopicMap{}, err
	}
	defer rows.Close()
	for rows.Next() {
		art, err := scanArticle(rows)
		if err != nil {
			return domain.TopicMap{}, err
		}
		if art.SubtopicID != nil {
			if pos, ok := index[*art.SubtopicID]; ok {
				sub := &m.Pillars[pos[0]].Subtopics[pos[1]]
				sub.Articles = append(sub.Articles, art)
				continue
			}
		}
		m.Orphans = append(m.Orphans, art)
	}
	return m, rows.Err()
}

// AppendArticles добавляет статьи; статьи с уже занятым slug пропускаются.
func (p *Postgres) AppendArticles(ctx context.Context, mapID int64, articles []domain.PlannedArticle) ([]domain.PlannedArticle, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "planned_articles", start, err)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	tag, err := tx.Exec(ctx, `UPDATE topic_maps SET updated_at = now() WHERE id = $1`, mapID)
	metrics.ObserveNetworkRequest("postgres", "topic_maps_touch", "topic_maps", start, err)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}

	out := make([]domain.PlannedArticle, 0, len(articles))
	for _, art := range articles {
		created, ok, err := insertArticle(ctx, tx, mapID, art.PillarID, art.SubtopicID, art)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, created)
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "planned_articles", start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTopicMap удаляет карту; узлы и статьи удаляются каскадно.
func (p *Postgres) DeleteTopicMap(ctx context.Context, id int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM topic_maps WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "topic_maps_delete", "topic_maps", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetArticle возвращает статью по идентификатору.
func (p *Postgres) GetArticle(ctx context.Context, id int64) (domain.PlannedArticle, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	art, err := scanArticle(p.pool.QueryRow(ctx, `SELECT `+articleColumns+` FROM planned_articles WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "planned_articles_get", "planned_articles", start, err)
	if err != nil {
		return domain.PlannedArticle{}, notFound(err)
	}
	return art, nil
}

func candidatesQuery(q domain.CandidateQuery) sq.SelectBuilder {
	retryable := sq.And{sq.Eq{"status": string(domain.StatusFailed)}, sq.Lt{"retry_count": q.MaxRetries}}
	var statusCond sq.Sqlizer = retryable
	if q.IncludePlanned {
		statusCond = sq.Or{sq.Eq{"status": string(domain.StatusPlanned)}, retryable}
	}
	b := psql.Select(articleColumns).
		From("planned_articles").
		Where(sq.Eq{"map_id": q.MapID}).
		Where(statusCond).
		OrderBy("priority DESC", "created_at ASC", "id ASC")
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	return b
}

// ListBatchCandidates выбирает статьи для пакета по приоритету.
func (p *Postgres) ListBatchCandidates(ctx context.Context, q domain.CandidateQuery) ([]domain.PlannedArticle, error) {
	query, args, err := candidatesQuery(q).ToSql()
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "planned_articles_candidates", "planned_articles", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PlannedArticle
	for rows.Next() {
		art, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, art)
	}
	return out, rows.Err()
}

func transitionQuery(id int64, from, to domain.ArticleStatus, upd domain.ArticleUpdate) sq.UpdateBuilder {
	b := psql.Update("planned_articles").
		Set("status", string(to)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": id, "status": string(from)})
	if upd.ContentRef != nil {
		b = b.Set("content_ref", *upd.ContentRef)
	}
	if upd.WordCount != nil {
		b = b.Set("word_count", *upd.WordCount)
	}
	if upd.LastError != nil {
		b = b.Set("last_error", *upd.LastError)
	}
	if upd.IncrementRetry {
		b = b.Set("retry_count", sq.Expr("retry_count + 1"))
	}
	if upd.PublishedURL != nil {
		b = b.Set("published_url", *upd.PublishedURL)
	}
	if upd.PublishedAt != nil {
		b = b.Set("published_at", *upd.PublishedAt)
	}
	return b
}

// TransitionArticle выполняет условный UPDATE по текущему статусу.
func (p *Postgres) TransitionArticle(ctx context.Context, id int64, from, to domain.ArticleStatus, upd domain.ArticleUpdate) (bool, error) {
	if from != to {
		if err := domain.ValidateTransition(from, to); err != nil {
			return false, err
		}
	}
	query, args, err := transitionQuery(id, from, to, upd).ToSql()
	if err != nil {
		return false, err
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "planned_articles_transition", "planned_articles", start, err)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	start = time.Now()
	err = p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM planned_articles WHERE id = $1)`, id).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "planned_articles_exists", "planned_articles", start, err)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
