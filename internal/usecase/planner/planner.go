package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/metrics"
)

const (
	minPillars          = 4
	maxPillars          = 7
	articlesPerPillar   = 8
	minSubtopics        = 2
	maxSubtopics        = 5
	articlesPerSubtopic = 3

	defaultResearchTimeout = 30 * time.Second
)

// NicheInput описывает запрос на построение или обновление карты тем.
type NicheInput struct {
	ProjectID       int64    `json:"project_id" validate:"required,gt=0"`
	Niche           string   `json:"niche" validate:"required,min=2,max=200"`
	Audience        string   `json:"audience" validate:"max=200"`
	Keywords        []string `json:"keywords" validate:"max=50,dive,max=100"`
	TotalArticles   int      `json:"total_articles" validate:"omitempty,min=1,max=500"`
	RefreshCount    int      `json:"refresh_count" validate:"omitempty,min=1,max=50"`
	RequireApproval bool     `json:"require_approval"`
}

// Service строит и пополняет карты тем.
type Service struct {
	researcher domain.TopicResearcher
	topics     domain.TopicRepo
	articles   domain.ArticleRepo
	profile    Profile
	logger     zerolog.Logger
	validate   *validator.Validate
	timeout    time.Duration
}

// NewService создаёт планировщик.
func NewService(researcher domain.TopicResearcher, topics domain.TopicRepo, articles domain.ArticleRepo, profile Profile, logger zerolog.Logger) *Service {
	return &Service{
		researcher: researcher,
		topics:     topics,
		articles:   articles,
		profile:    profile,
		logger:     logger.With().Str("component", "planner").Logger(),
		validate:   validator.New(),
		timeout:    defaultResearchTimeout,
	}
}

// WithResearchTimeout задаёт таймаут одного обращения к исследователю.
func (s *Service) WithResearchTimeout(timeout time.Duration) *Service {
	if timeout > 0 {
		s.timeout = timeout
	}
	return s
}

// BuildOrRefresh строит карту, если у проекта её нет, иначе пополняет существующую.
func (s *Service) BuildOrRefresh(ctx context.Context, in NicheInput) (domain.TopicMapDelta, error) {
	if err := s.validateInput(&in); err != nil {
		return domain.TopicMapDelta{}, err
	}
	existing, err := s.topics.GetTopicMapByProject(ctx, in.ProjectID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return s.build(ctx, in)
	case err != nil:
		return domain.TopicMapDelta{}, fmt.Errorf("получение карты тем: %w", err)
	}
	return s.Refresh(ctx, existing.ID, in.RefreshCount)
}

// Build строит новую карту тем.
func (s *Service) Build(ctx context.Context, in NicheInput) (domain.TopicMapDelta, error) {
	if err := s.validateInput(&in); err != nil {
		return domain.TopicMapDelta{}, err
	}
	return s.build(ctx, in)
}

func (s *Service) validateInput(in *NicheInput) error {
	in.Niche = strings.TrimSpace(in.Niche)
	in.Audience = strings.TrimSpace(in.Audience)
	keywords := in.Keywords[:0:0]
	for _, kw := range in.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	in.Keywords = keywords
	if err := s.validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidNiche, err)
	}
	return nil
}

func (s *Service) build(ctx context.Context, in NicheInput) (domain.TopicMapDelta, error) {
	total := in.TotalArticles
	if total <= 0 {
		total = s.profile.DefaultTotal
	}
	status := initialStatus(in.RequireApproval)

	pillarIdeas := s.pillarIdeas(ctx, in, PillarCount(total))
	if len(pillarIdeas) == 0 {
		return domain.TopicMapDelta{}, fmt.Errorf("%w: ниша %q", domain.ErrNoIdeas, in.Niche)
	}
	budgets := SplitBudget(total, len(pillarIdeas))

	type pillarResult struct {
		pillar  domain.Pillar
		orphans []domain.PlannedArticle
	}
	results := make([]pillarResult, len(pillarIdeas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.profile.ResearchConcurrency, 1))
	for i, idea := range pillarIdeas {
		g.Go(func() error {
			pillar, orphans := s.buildPillar(gctx, in, idea, budgets[i], status)
			pillar.Position = i
			results[i] = pillarResult{pillar: pillar, orphans: orphans}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return domain.TopicMapDelta{}, fmt.Errorf("исследование тем: %w", err)
	}

	m := domain.TopicMap{
		ProjectID:       in.ProjectID,
		Niche:           in.Niche,
		Audience:        in.Audience,
		Keywords:        in.Keywords,
		RequireApproval: in.RequireApproval,
	}
	seen := make(map[string]bool)
	dropped := 0
	for _, res := range results {
		pillar := res.pillar
		for si := range pillar.Subtopics {
			var n int
			pillar.Subtopics[si].Articles, n = dedupe(pillar.Subtopics[si].Articles, seen)
			dropped += n
		}
		orphans, n := dedupe(res.orphans, seen)
		dropped += n
		m.Pillars = append(m.Pillars, pillar)
		m.Orphans = append(m.Orphans, orphans...)
	}

	created, err := s.topics.CreateTopicMap(ctx, m)
	if err != nil {
		return domain.TopicMapDelta{}, fmt.Errorf("сохранение карты тем: %w", err)
	}
	delta := domain.TopicMapDelta{MapID: created.ID, Pillars: created.Pillars, Articles: created.Orphans}
	metrics.ObservePlannerIdeas("accepted", delta.ArticleCount())
	metrics.ObservePlannerIdeas("duplicate", dropped)
	s.logger.Info().
		Int64("project_id", in.ProjectID).
		Int64("map_id", created.ID).
		Int("pillars", len(created.Pillars)).
		Int("articles", delta.ArticleCount()).
		Int("duplicates", dropped).
		Msg("planner: карта тем построена")
	return delta, nil
}

func (s *Service) pillarIdeas(ctx context.Context, in NicheInput, count int) []domain.TopicIdea {
	ideas, err := s.research(ctx, domain.ResearchRequest{
		Scope:    domain.ResearchPillars,
		Niche:    in.Niche,
		Audience: in.Audience,
		Keywords: in.Keywords,
		Count:    count,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("niche", in.Niche).Msg("planner: исследование столпов не удалось, используем ключевые слова")
	}
	ideas = uniqueIdeas(ideas, count)
	if len(ideas) > 0 {
		return ideas
	}

	var seeds []domain.TopicIdea
	for _, kw := range in.Keywords {
		seeds = append(seeds, domain.TopicIdea{Title: kw, Keyword: kw})
	}
	return uniqueIdeas(seeds, count)
}

func (s *Service) buildPillar(ctx context.Context, in NicheInput, idea domain.TopicIdea, budget int, status domain.ArticleStatus) (domain.Pillar, []domain.PlannedArticle) {
	pillar := domain.Pillar{Title: idea.Title, Keyword: keywordOf(idea)}

	subCount := SubtopicCount(budget)
	subIdeas, err := s.research(ctx, domain.ResearchRequest{
		Scope:    domain.ResearchSubtopics,
		Niche:    in.Niche,
		Audience: in.Audience,
		Seed:     idea.Title,
		Keywords: []string{pillar.Keyword},
		Count:    subCount,
	})
	subIdeas = uniqueIdeas(subIdeas, subCount)
	if err != nil || len(subIdeas) == 0 {
		s.logger.Warn().Err(err).Str("pillar", idea.Title).Msg("planner: подтем нет, статьи столпа без подтемы")
		return pillar, s.articlesFor(ctx, in, idea, budget, status)
	}

	subBudgets := SplitBudget(budget, len(subIdeas))
	for i, subIdea := range subIdeas {
		pillar.Subtopics = append(pillar.Subtopics, domain.Subtopic{
			Title:    subIdea.Title,
			Keyword:  keywordOf(subIdea),
			Position: i,
			Articles: s.articlesFor(ctx, in, subIdea, subBudgets[i], status),
		})
	}
	return pillar, nil
}

// articlesFor запрашивает статьи для темы; при неудаче статья строится из самой темы.
func (s *Service) articlesFor(ctx context.Context, in NicheInput, parent domain.TopicIdea, budget int, status domain.ArticleStatus) []domain.PlannedArticle {
	if budget <= 0 {
		return nil
	}
	ideas, err := s.research(ctx, domain.ResearchRequest{
		Scope:    domain.ResearchArticles,
		Niche:    in.Niche,
		Audience: in.Audience,
		Seed:     parent.Title,
		Keywords: []string{keywordOf(parent)},
		Count:    budget,
	})
	ideas = uniqueIdeas(ideas, budget)
	if err != nil || len(ideas) == 0 {
		if err != nil {
			s.logger.Warn().Err(err).Str("topic", parent.Title).Msg("planner: исследование статей не удалось")
		}
		ideas = []domain.TopicIdea{parent}
	}

	out := make([]domain.PlannedArticle, 0, len(ideas))
	for _, idea := range ideas {
		out = append(out, s.newArticle(idea, status))
	}
	SortByPriority(out)
	return out
}

// Refresh запрашивает новые идеи для карты и добавляет их без дубликатов.
// Недоступность исследователя даёт пустую дельту без ошибки.
func (s *Service) Refresh(ctx context.Context, mapID int64, count int) (domain.TopicMapDelta, error) {
	m, err := s.topics.GetTopicMap(ctx, mapID)
	if err != nil {
		return domain.TopicMapDelta{}, fmt.Errorf("получение карты тем: %w", err)
	}
	if count <= 0 {
		count = s.profile.RefreshCount
	}
	delta := domain.TopicMapDelta{MapID: mapID}

	ideas, err := s.research(ctx, domain.ResearchRequest{
		Scope:    domain.ResearchInsights,
		Niche:    m.Niche,
		Audience: m.Audience,
		Keywords: m.Keywords,
		Count:    count,
	})
	if err != nil {
		metrics.ObservePlannerIdeas("unavailable", 1)
		s.logger.Warn().Err(err).Int64("map_id", mapID).Msg("planner: исследователь недоступен, новых идей нет")
		return delta, nil
	}

	seen := make(map[string]bool)
	for _, art := range m.AllArticles() {
		seen[Slugify(art.Title)] = true
	}
	status := initialStatus(m.RequireApproval)

	var fresh []domain.PlannedArticle
	duplicates := 0
	for _, idea := range ideas {
		slug := Slugify(idea.Title)
		if slug == "" || seen[slug] {
			duplicates++
			continue
		}
		seen[slug] = true
		art := s.newArticle(idea, status)
		attach(&art, m, idea)
		fresh = append(fresh, art)
		if len(fresh) == count {
			break
		}
	}
	metrics.ObservePlannerIdeas("duplicate", duplicates)
	if len(fresh) == 0 {
		s.logger.Info().Int64("map_id", mapID).Int("duplicates", duplicates).Msg("planner: новых идей нет")
		return delta, nil
	}
	SortByPriority(fresh)

	saved, err := s.topics.AppendArticles(ctx, mapID, fresh)
	if err != nil {
		return domain.TopicMapDelta{}, fmt.Errorf("сохранение новых статей: %w", err)
	}
	delta.Articles = saved
	metrics.ObservePlannerIdeas("accepted", len(saved))
	s.logger.Info().Int64("map_id", mapID).Int("articles", len(saved)).Int("duplicates", duplicates).Msg("planner: карта пополнена")
	return delta, nil
}

// Approve переводит идею в план генерации.
func (s *Service) Approve(ctx context.Context, articleID int64) (domain.PlannedArticle, error) {
	ok, err := s.articles.TransitionArticle(ctx, articleID, domain.StatusIdea, domain.StatusPlanned, domain.ArticleUpdate{})
	if err != nil {
		return domain.PlannedArticle{}, fmt.Errorf("одобрение статьи: %w", err)
	}
	art, err := s.articles.GetArticle(ctx, articleID)
	if err != nil {
		return domain.PlannedArticle{}, fmt.Errorf("получение статьи: %w", err)
	}
	if !ok {
		return domain.PlannedArticle{}, fmt.Errorf("%w: %s → %s", domain.ErrIllegalTransition, art.Status, domain.StatusPlanned)
	}
	return art, nil
}

func (s *Service) research(ctx context.Context, req domain.ResearchRequest) ([]domain.TopicIdea, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.researcher.Research(ctx, req)
}

func (s *Service) newArticle(idea domain.TopicIdea, status domain.ArticleStatus) domain.PlannedArticle {
	kind := InferContentType(idea.Title)
	return domain.PlannedArticle{
		Title:             strings.TrimSpace(idea.Title),
		Slug:              Slugify(idea.Title),
		FocusKeyword:      keywordOf(idea),
		SecondaryKeywords: idea.SecondaryKeywords,
		Metrics:           idea.Metrics,
		TargetWordCount:   s.profile.TargetWordCount(kind, idea.Metrics.Difficulty),
		Priority:          Priority(idea),
		ContentType:       kind,
		Status:            status,
	}
}

// attach привязывает статью к подтеме с наибольшим пересечением ключевых слов.
func attach(art *domain.PlannedArticle, m domain.TopicMap, idea domain.TopicIdea) {
	ideaTokens := tokens(idea.Title, idea.Keyword)
	best := 0
	for _, pillar := range m.Pillars {
		for _, sub := range pillar.Subtopics {
			score := overlap(ideaTokens, tokens(sub.Title, sub.Keyword))
			if score > best {
				best = score
				pillarID, subID := pillar.ID, sub.ID
				art.PillarID = &pillarID
				art.SubtopicID = &subID
			}
		}
	}
}

// PillarCount делит бюджет на 4–7 столпов, но не больше количества статей.
func PillarCount(total int) int {
	return min(clamp(total/articlesPerPillar, minPillars, maxPillars), max(total, 1))
}

// SubtopicCount возвращает 2–5 подтем, но не больше бюджета столпа.
func SubtopicCount(budget int) int {
	return min(clamp(budget/articlesPerSubtopic, minSubtopics, maxSubtopics), max(budget, 1))
}

// SplitBudget делит total на n частей; остаток достаётся первым.
func SplitBudget(total, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	for i := range out {
		out[i] = total / n
		if i < total%n {
			out[i]++
		}
	}
	return out
}

// SortByPriority упорядочивает по убыванию приоритета, сохраняя порядок равных.
func SortByPriority(articles []domain.PlannedArticle) {
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Priority > articles[j].Priority
	})
}

func dedupe(articles []domain.PlannedArticle, seen map[string]bool) ([]domain.PlannedArticle, int) {
	out := articles[:0]
	dropped := 0
	for _, art := range articles {
		slug := Slugify(art.Title)
		if slug == "" || seen[slug] {
			dropped++
			continue
		}
		seen[slug] = true
		out = append(out, art)
	}
	return out, dropped
}

func uniqueIdeas(ideas []domain.TopicIdea, limit int) []domain.TopicIdea {
	seen := make(map[string]bool)
	var out []domain.TopicIdea
	for _, idea := range ideas {
		slug := Slugify(idea.Title)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		out = append(out, idea)
		if len(out) == limit {
			break
		}
	}
	return out
}

func keywordOf(idea domain.TopicIdea) string {
	if kw := strings.TrimSpace(idea.Keyword); kw != "" {
		return kw
	}
	return strings.ToLower(strings.TrimSpace(idea.Title))
}

func initialStatus(requireApproval bool) domain.ArticleStatus {
	if requireApproval {
		return domain.StatusIdea
	}
	return domain.StatusPlanned
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
