package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fact-feed/internal/adapters/ranker"
	"fact-feed/internal/domain"
	"fact-feed/internal/infra/cache"
	"fact-feed/internal/infra/metrics"
	"fact-feed/internal/usecase/preference"
)

const (
	kindGlobal   = "global"
	kindCategory = "category"
	kindLatest   = "latest"
)

// Ranker отбирает факты страницы ленты.
type Ranker interface {
	Rank(ctx context.Context, req ranker.RankRequest) (ranker.RankResult, error)
}

// Options задаёт лимиты и TTL ленты.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	TTL          time.Duration
	Location     *time.Location
}

// Service строит персональные ленты фактов и кэширует их.
type Service struct {
	facts      domain.FactRepo
	categories domain.CategoryRepo
	ledger     domain.ViewLedger
	users      domain.UserRepo
	cache      domain.Cache
	ranker     Ranker
	opts       Options
	log        zerolog.Logger
	now        func() time.Time
}

// NewService создаёт сервис ленты. cache может быть nil.
func NewService(facts domain.FactRepo, categories domain.CategoryRepo, ledger domain.ViewLedger, users domain.UserRepo, c domain.Cache, rk Ranker, opts Options, logger zerolog.Logger) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 100
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Service{
		facts:      facts,
		categories: categories,
		ledger:     ledger,
		users:      users,
		cache:      c,
		ranker:     rk,
		opts:       opts,
		log:        logger.With().Str("component", "feed").Logger(),
		now:        time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type feedParams struct {
	CategoryID string `json:"categoryId,omitempty"`
	Limit      int    `json:"limit"`
}

type latestParams struct {
	Latest bool `json:"latest"`
	Limit  int  `json:"limit"`
}

// Limit приводит запрошенный размер страницы к допустимому диапазону.
func (s *Service) Limit(requested int) int {
	switch {
	case requested <= 0:
		return s.opts.DefaultLimit
	case requested > s.opts.MaxLimit:
		return s.opts.MaxLimit
	default:
		return requested
	}
}

// Feed возвращает персональную ленту зрителя по всем категориям.
func (s *Service) Feed(ctx context.Context, subject domain.Subject, limit int) (domain.FeedPage, error) {
	if subject.IsZero() {
		return domain.FeedPage{}, fmt.Errorf("%w: айди пользователя или анонимный айди обязательны", domain.ErrValidation)
	}
	limit = s.Limit(limit)
	key := cache.FeedKey(subject, feedParams{Limit: limit})
	if page, ok := s.cached(ctx, key); ok {
		metrics.IncFeedRequest(kindGlobal, "cache")
		return page, nil
	}
	defer metrics.ObserveFeedBuild(kindGlobal, time.Now())

	interests, err := s.interests(ctx, subject, false)
	if err != nil {
		return domain.FeedPage{}, err
	}
	viewed, err := s.ledger.ViewedFacts(ctx, subject)
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("просмотренные факты: %w", err)
	}
	recent, err := s.ledger.RecentViews(ctx, subject, preference.RecentViewsLimit)
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("история просмотров: %w", err)
	}
	affinity, err := s.affinity(ctx, recent)
	if err != nil {
		return domain.FeedPage{}, err
	}

	source := &historySource{facts: s.facts, viewed: viewed}
	page, err := s.build(ctx, source, ranker.RankRequest{
		Limit: limit,
		Weight: func(_ context.Context, categoryID string) (float64, error) {
			return preference.AffinityWeight(affinity, categoryID), nil
		},
		Interests: interests,
		Signal:    preference.EstimateViewingPatterns(recent, s.opts.Location),
	})
	if err != nil {
		return domain.FeedPage{}, err
	}
	s.store(ctx, key, page)
	metrics.IncFeedRequest(kindGlobal, "built")
	return page, nil
}

// CategoryFeed возвращает ленту зрителя внутри одной категории.
func (s *Service) CategoryFeed(ctx context.Context, subject domain.Subject, categoryID string, limit int) (domain.FeedPage, error) {
	categoryID = strings.TrimSpace(categoryID)
	if categoryID == "" {
		return domain.FeedPage{}, fmt.Errorf("%w: айди категории обязателен", domain.ErrValidation)
	}
	if subject.IsZero() {
		return domain.FeedPage{}, fmt.Errorf("%w: айди пользователя или анонимный айди обязательны", domain.ErrValidation)
	}
	limit = s.Limit(limit)
	key := cache.CategoryFeedKey(subject, feedParams{CategoryID: categoryID, Limit: limit})
	if page, ok := s.cached(ctx, key); ok {
		metrics.IncFeedRequest(kindCategory, "cache")
		return page, nil
	}
	defer metrics.ObserveFeedBuild(kindCategory, time.Now())

	if _, err := s.categories.GetCategory(ctx, categoryID); err != nil {
		return domain.FeedPage{}, fmt.Errorf("получение категории: %w", err)
	}
	interests, err := s.interests(ctx, subject, true)
	if err != nil {
		return domain.FeedPage{}, err
	}
	viewed, err := s.ledger.ViewedFacts(ctx, subject)
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("просмотренные факты: %w", err)
	}
	recent, err := s.ledger.RecentViews(ctx, subject, preference.RecentViewsLimit)
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("история просмотров: %w", err)
	}

	now := s.now()
	source := &historySource{facts: s.facts, categoryID: categoryID, viewed: viewed}
	page, err := s.build(ctx, source, ranker.RankRequest{
		Limit: limit,
		Weight: func(ctx context.Context, id string) (float64, error) {
			engagement, found, err := s.ledger.CategoryEngagement(ctx, subject, id)
			if err != nil {
				return 0, fmt.Errorf("вовлечённость в категорию: %w", err)
			}
			return preference.EngagementWeight(engagement, found, now), nil
		},
		Interests: interests,
		Signal:    preference.EstimateViewingPatterns(recent, s.opts.Location),
		Now:       now,
	})
	if err != nil {
		return domain.FeedPage{}, err
	}
	s.store(ctx, key, page)
	metrics.IncFeedRequest(kindCategory, "built")
	return page, nil
}

// Latest отдаёт самые новые факты без персонализации. Используется,
// когда зритель не представился.
func (s *Service) Latest(ctx context.Context, limit int) (domain.FeedPage, error) {
	limit = s.Limit(limit)
	key := cache.ParamsKey(cache.NSFactList, latestParams{Latest: true, Limit: limit})
	if page, ok := s.cached(ctx, key); ok {
		metrics.IncFeedRequest(kindLatest, "cache")
		return page, nil
	}
	defer metrics.ObserveFeedBuild(kindLatest, time.Now())

	facts, err := s.facts.LatestFacts(ctx, "", limit)
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("последние факты: %w", err)
	}
	hasMore, err := s.facts.ExistsOutside(ctx, "", factIDs(facts))
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("проверка остатка: %w", err)
	}
	page := domain.FeedPage{Facts: nonNil(facts), HasMore: hasMore}
	s.store(ctx, key, page)
	metrics.IncFeedRequest(kindLatest, "built")
	return page, nil
}

func (s *Service) build(ctx context.Context, source *historySource, req ranker.RankRequest) (domain.FeedPage, error) {
	req.Source = source
	if req.Now.IsZero() {
		req.Now = s.now()
	}
	res, err := s.ranker.Rank(ctx, req)
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("ранжирование: %w", err)
	}
	exclude := append(source.viewedIDs(), factIDs(res.Facts)...)
	hasMore, err := s.facts.ExistsOutside(ctx, source.categoryID, exclude)
	if err != nil {
		return domain.FeedPage{}, fmt.Errorf("проверка остатка: %w", err)
	}
	if res.Resurfaced > 0 {
		s.log.Debug().Int("resurfaced", res.Resurfaced).Str("category_id", source.categoryID).Msg("feed: лента дополнена просмотренными фактами")
	}
	return domain.FeedPage{Facts: nonNil(res.Facts), HasMore: hasMore}, nil
}

// interests возвращает заявленные интересы авторизованного пользователя.
// При strict ссылка на несуществующую категорию даёт NotFound, иначе такие
// категории пропускаются.
func (s *Service) interests(ctx context.Context, subject domain.Subject, strict bool) (map[string]struct{}, error) {
	if !subject.Authenticated() || s.users == nil {
		return nil, nil
	}
	user, err := s.users.GetUser(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("получение пользователя: %w", err)
	}
	if len(user.Interests) == 0 {
		return nil, nil
	}
	missing, err := s.categories.MissingCategories(ctx, user.Interests)
	if err != nil {
		return nil, fmt.Errorf("проверка интересов: %w", err)
	}
	if len(missing) > 0 && strict {
		return nil, fmt.Errorf("%w: категории интересов %s", domain.ErrNotFound, strings.Join(missing, ", "))
	}
	if len(missing) > 0 {
		s.log.Debug().Str("user_id", subject.ID).Strs("missing", missing).Msg("feed: пропущены удалённые категории интересов")
	}
	set := make(map[string]struct{}, len(user.Interests))
	for _, id := range user.Interests {
		set[id] = struct{}{}
	}
	for _, id := range missing {
		delete(set, id)
	}
	return set, nil
}

func (s *Service) affinity(ctx context.Context, recent []domain.ViewEvent) (domain.CategoryAffinity, error) {
	if len(recent) == 0 {
		return domain.CategoryAffinity{}, nil
	}
	ids := make([]string, 0, len(recent))
	for _, v := range recent {
		ids = append(ids, v.FactID)
	}
	facts, err := s.facts.GetFactsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("факты истории: %w", err)
	}
	byID := make(map[string]domain.Fact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}
	return preference.EstimateCategoryAffinity(recent, byID), nil
}

// cached читает страницу из кэша. Сбой кэша равносилен промаху.
func (s *Service) cached(ctx context.Context, key string) (domain.FeedPage, bool) {
	if s.cache == nil {
		return domain.FeedPage{}, false
	}
	var page domain.FeedPage
	found, err := cache.GetJSON(ctx, s.cache, key, &page)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("feed: кэш недоступен, строим ленту заново")
		return domain.FeedPage{}, false
	}
	return page, found
}

func (s *Service) store(ctx context.Context, key string, page domain.FeedPage) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, page, s.opts.TTL); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("feed: не удалось записать ленту в кэш")
	}
}

func factIDs(facts []domain.Fact) []string {
	ids := make([]string, 0, len(facts))
	for _, f := range facts {
		ids = append(ids, f.ID)
	}
	return ids
}

func nonNil(facts []domain.Fact) []domain.Fact {
	if facts == nil {
		return []domain.Fact{}
	}
	return facts
}
