package memstore

import (
	"context"
	"sort"

	"content-autopilot/internal/domain"
)

// GetArticle возвращает статью по идентификатору.
func (s *Store) GetArticle(_ context.Context, id int64) (domain.PlannedArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.articles[id]
	if !ok {
		return domain.PlannedArticle{}, domain.ErrNotFound
	}
	return art, nil
}

// ListBatchCandidates выбирает planned и повторяемые failed статьи карты.
func (s *Store) ListBatchCandidates(_ context.Context, q domain.CandidateQuery) ([]domain.PlannedArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PlannedArticle
	for _, art := range s.articles {
		if art.MapID != q.MapID {
			continue
		}
		switch {
		case art.Status == domain.StatusPlanned && q.IncludePlanned:
		case art.Status == domain.StatusFailed && art.RetryCount < q.MaxRetries:
		default:
			continue
		}
		out = append(out, art)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// TransitionArticle меняет статус, только если текущий равен from.
// При from == to обновляются только поля.
func (s *Store) TransitionArticle(_ context.Context, id int64, from, to domain.ArticleStatus, upd domain.ArticleUpdate) (bool, error) {
	if from != to {
		if err := domain.ValidateTransition(from, to); err != nil {
			return false, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	art, ok := s.articles[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if art.Status != from {
		return false, nil
	}
	art.Status = to
	applyUpdate(&art, upd)
	art.UpdatedAt = s.now()
	s.articles[id] = art
	return true, nil
}

func applyUpdate(art *domain.PlannedArticle, upd domain.ArticleUpdate) {
	if upd.ContentRef != nil {
		art.ContentRef = *upd.ContentRef
	}
	if upd.WordCount != nil {
		art.WordCount = *upd.WordCount
	}
	if upd.LastError != nil {
		art.LastError = *upd.LastError
	}
	if upd.IncrementRetry {
		art.RetryCount++
	}
	if upd.PublishedURL != nil {
		art.PublishedURL = *upd.PublishedURL
	}
	if upd.PublishedAt != nil {
		ts := *upd.PublishedAt
		art.PublishedAt = &ts
	}
}
