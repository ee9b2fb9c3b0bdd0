package memstore

import (
	"context"
	"sort"

	"content-autopilot/internal/domain"
)

// CreateTopicMap сохраняет карту вместе со всеми узлами и присваивает идентификаторы.
func (s *Store) CreateTopicMap(_ context.Context, m domain.TopicMap) (domain.TopicMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m.ID = s.nextID()
	m.CreatedAt = now
	m.UpdatedAt = now
	for pi := range m.Pillars {
		pillar := &m.Pillars[pi]
		pillar.ID = s.nextID()
		pillar.MapID = m.ID
		for si := range pillar.Subtopics {
			sub := &pillar.Subtopics[si]
			sub.ID = s.nextID()
			sub.PillarID = pillar.ID
			for ai := range sub.Articles {
				pillarID, subID := pillar.ID, sub.ID
				sub.Articles[ai] = s.storeArticle(m.ID, &pillarID, &subID, sub.Articles[ai])
			}
		}
	}
	for i := range m.Orphans {
		m.Orphans[i] = s.storeArticle(m.ID, m.Orphans[i].PillarID, nil, m.Orphans[i])
	}

	s.topicMaps[m.ID] = stripArticles(m)
	return s.assemble(m.ID), nil
}

// GetTopicMap возвращает карту с актуальными статьями.
func (s *Store) GetTopicMap(_ context.Context, id int64) (domain.TopicMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topicMaps[id]; !ok {
		return domain.TopicMap{}, domain.ErrNotFound
	}
	return s.assemble(id), nil
}

// GetTopicMapByProject возвращает карту проекта.
func (s *Store) GetTopicMapByProject(_ context.Context, projectID int64) (domain.TopicMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found int64
		ok    bool
	)
	for id, m := range s.topicMaps {
		if m.ProjectID == projectID && (!ok || id < found) {
			found, ok = id, true
		}
	}
	if !ok {
		return domain.TopicMap{}, domain.ErrNotFound
	}
	return s.assemble(found), nil
}

// AppendArticles добавляет статьи к существующей карте.
func (s *Store) AppendArticles(_ context.Context, mapID int64, articles []domain.PlannedArticle) ([]domain.PlannedArticle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.topicMaps[mapID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.PlannedArticle, 0, len(articles))
	for _, art := range articles {
		out = append(out, s.storeArticle(mapID, art.PillarID, art.SubtopicID, art))
	}
	m.UpdatedAt = s.now()
	s.topicMaps[mapID] = m
	return out, nil
}

// DeleteTopicMap удаляет карту и все её статьи.
func (s *Store) DeleteTopicMap(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topicMaps[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.topicMaps, id)
	for artID, art := range s.articles {
		if art.MapID == id {
			delete(s.articles, artID)
		}
	}
	return nil
}

func (s *Store) storeArticle(mapID int64, pillarID, subtopicID *int64, art domain.PlannedArticle) domain.PlannedArticle {
	now := s.now()
	art.ID = s.nextID()
	art.MapID = mapID
	art.PillarID = copyID(pillarID)
	art.SubtopicID = copyID(subtopicID)
	art.SecondaryKeywords = append([]string(nil), art.SecondaryKeywords...)
	if art.Status == "" {
		art.Status = domain.StatusPlanned
	}
	art.CreatedAt = now
	art.UpdatedAt = now
	s.articles[art.ID] = art
	return art
}

func (s *Store) assemble(mapID int64) domain.TopicMap {
	m := s.topicMaps[mapID]
	pillars := make([]domain.Pillar, len(m.Pillars))
	index := make(map[int64]*domain.Subtopic)
	for pi, p := range m.Pillars {
		p.Subtopics = append([]domain.Subtopic(nil), p.Subtopics...)
		pillars[pi] = p
		for si := range pillars[pi].Subtopics {
			sub := &pillars[pi].Subtopics[si]
			sub.Articles = nil
			index[sub.ID] = sub
		}
	}
	m.Pillars = pillars
	m.Orphans = nil

	var list []domain.PlannedArticle
	for _, art := range s.articles {
		if art.MapID == mapID {
			list = append(list, art)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	for _, art := range list {
		if art.SubtopicID != nil {
			if sub, ok := index[*art.SubtopicID]; ok {
				sub.Articles = append(sub.Articles, art)
				continue
			}
		}
		m.Orphans = append(m.Orphans, art)
	}
	return m
}

func stripArticles(m domain.TopicMap) domain.TopicMap {
	pillars := make([]domain.Pillar, len(m.Pillars))
	for pi, p := range m.Pillars {
		subs := make([]domain.Subtopic, len(p.Subtopics))
		for si, sub := range p.Subtopics {
			sub.Articles = nil
			subs[si] = sub
		}
		p.Subtopics = subs
		pillars[pi] = p
	}
	m.Pillars = pillars
	m.Orphans = nil
	return m
}

func copyID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
