package facts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/cache"
	"fact-feed/internal/infra/validation"
	"fact-feed/internal/usecase/invalidation"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service управляет фактами и поддерживает счётчики фактов в категориях.
type Service struct {
	facts       domain.FactRepo
	categories  domain.CategoryRepo
	stats       domain.Aggregator
	cache       domain.Cache
	ttl         time.Duration
	invalidator *invalidation.Coordinator
	log         zerolog.Logger
}

// NewService создаёт сервис фактов. cache может быть nil.
func NewService(facts domain.FactRepo, categories domain.CategoryRepo, stats domain.Aggregator, c domain.Cache, ttl time.Duration, invalidator *invalidation.Coordinator, logger zerolog.Logger) *Service {
	return &Service{
		facts:       facts,
		categories:  categories,
		stats:       stats,
		cache:       c,
		ttl:         ttl,
		invalidator: invalidator,
		log:         logger.With().Str("component", "facts").Logger(),
	}
}

// Create добавляет факт в существующую категорию.
func (s *Service) Create(ctx context.Context, in domain.FactInput) (domain.Fact, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if err := validation.Struct(in); err != nil {
		return domain.Fact{}, err
	}
	fact, err := s.facts.CreateFact(ctx, domain.Fact{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Image:       in.Image,
		CategoryID:  in.CategoryID,
	})
	if err != nil {
		return domain.Fact{}, fmt.Errorf("сохранение факта: %w", err)
	}
	s.syncCounts(ctx, fact.CategoryID)
	s.invalidator.Apply(ctx,
		invalidation.Event{Mutation: invalidation.FactCreated, FactID: fact.ID},
		invalidation.Event{Mutation: invalidation.CategoryFactsCountChanged, CategoryID: fact.CategoryID},
	)
	s.log.Info().Str("fact_id", fact.ID).Str("category_id", fact.CategoryID).Msg("facts: факт создан")
	return fact, nil
}

// Update частично изменяет факт. При переносе в другую категорию
// пересчитываются обе категории.
func (s *Service) Update(ctx context.Context, id string, patch domain.FactPatch) (domain.Fact, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Fact{}, fmt.Errorf("%w: айди факта обязателен", domain.ErrValidation)
	}
	if err := validation.Struct(patch); err != nil {
		return domain.Fact{}, err
	}
	before, after, err := s.facts.UpdateFact(ctx, id, patch)
	if err != nil {
		return domain.Fact{}, fmt.Errorf("обновление факта: %w", err)
	}
	events := []invalidation.Event{{Mutation: invalidation.FactUpdated, FactID: id}}
	if before.CategoryID != after.CategoryID {
		s.syncCounts(ctx, before.CategoryID, after.CategoryID)
		events = append(events,
			invalidation.Event{Mutation: invalidation.CategoryFactsCountChanged, CategoryID: before.CategoryID},
			invalidation.Event{Mutation: invalidation.CategoryFactsCountChanged, CategoryID: after.CategoryID},
		)
	}
	s.invalidator.Apply(ctx, events...)
	return after, nil
}

// Delete удаляет факт. Просмотры факта остаются в журнале.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: айди факта обязателен", domain.ErrValidation)
	}
	fact, err := s.facts.DeleteFact(ctx, id)
	if err != nil {
		return fmt.Errorf("удаление факта: %w", err)
	}
	s.syncCounts(ctx, fact.CategoryID)
	s.invalidator.Apply(ctx,
		invalidation.Event{Mutation: invalidation.FactDeleted, FactID: id},
		invalidation.Event{Mutation: invalidation.CategoryFactsCountChanged, CategoryID: fact.CategoryID},
	)
	s.log.Info().Str("fact_id", id).Msg("facts: факт удалён")
	return nil
}

// Get возвращает факт по айди.
func (s *Service) Get(ctx context.Context, id string) (domain.Fact, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Fact{}, fmt.Errorf("%w: айди факта обязателен", domain.ErrValidation)
	}
	key := cache.FactKey(id)
	var fact domain.Fact
	if s.read(ctx, key, &fact) {
		return fact, nil
	}
	fact, err := s.facts.GetFact(ctx, id)
	if err != nil {
		return domain.Fact{}, fmt.Errorf("получение факта: %w", err)
	}
	s.write(ctx, key, fact)
	return fact, nil
}

type listEntry struct {
	Facts []domain.Fact `json:"facts"`
	Total int           `json:"total"`
}

// List возвращает страницу фактов с числом просмотров каждого.
// Число просмотров подставляется после кэша, поэтому запись просмотра
// не делает закэшированный список устаревшим.
func (s *Service) List(ctx context.Context, q domain.FactQuery) (domain.FactPage, error) {
	q, err := normalizeQuery(q)
	if err != nil {
		return domain.FactPage{}, err
	}
	key := cache.ParamsKey(cache.NSFactList, q)
	var entry listEntry
	if !s.read(ctx, key, &entry) {
		facts, total, err := s.facts.ListFacts(ctx, q)
		if err != nil {
			return domain.FactPage{}, fmt.Errorf("список фактов: %w", err)
		}
		entry = listEntry{Facts: facts, Total: total}
		s.write(ctx, key, entry)
	}

	ids := make([]string, 0, len(entry.Facts))
	for _, f := range entry.Facts {
		ids = append(ids, f.ID)
	}
	counts := map[string]int{}
	if len(ids) > 0 && s.stats != nil {
		if counts, err = s.stats.FactViewCounts(ctx, ids); err != nil {
			return domain.FactPage{}, fmt.Errorf("число просмотров: %w", err)
		}
	}
	page := domain.FactPage{Facts: make([]domain.FactWithViews, 0, len(entry.Facts)), Total: entry.Total}
	for _, f := range entry.Facts {
		page.Facts = append(page.Facts, domain.FactWithViews{Fact: f, Views: counts[f.ID]})
	}
	return page, nil
}

func normalizeQuery(q domain.FactQuery) (domain.FactQuery, error) {
	if q.Page <= 0 {
		q.Page = 1
	}
	switch {
	case q.Limit <= 0:
		q.Limit = defaultPageSize
	case q.Limit > maxPageSize:
		q.Limit = maxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	switch q.SortBy {
	case "":
		q.SortBy = domain.SortByCreatedAt
	case domain.SortByCreatedAt, domain.SortByUpdatedAt, domain.SortByTitle:
	default:
		return q, fmt.Errorf("%w: сортировка по %q не поддерживается", domain.ErrValidation, q.SortBy)
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return q, fmt.Errorf("%w: начало периода позже конца", domain.ErrValidation)
	}
	return q, nil
}

// Count возвращает число фактов в категории или всего при пустой categoryID.
func (s *Service) Count(ctx context.Context, categoryID string) (int, error) {
	key := cache.FactCountKey(categoryID)
	var n int
	if s.read(ctx, key, &n) {
		return n, nil
	}
	n, err := s.facts.CountFacts(ctx, categoryID)
	if err != nil {
		return 0, fmt.Errorf("подсчёт фактов: %w", err)
	}
	s.write(ctx, key, n)
	return n, nil
}

// RecalculateAll сверяет factsCount всех категорий с фактическим числом
// фактов и сбрасывает кэш. Возвращает число исправленных категорий.
func (s *Service) RecalculateAll(ctx context.Context) (int, error) {
	cats, err := s.categories.ListCategories(ctx, domain.CategoryQuery{})
	if err != nil {
		return 0, fmt.Errorf("список категорий: %w", err)
	}
	fixed := 0
	for _, c := range cats {
		n, err := s.facts.CountFacts(ctx, c.ID)
		if err != nil {
			return fixed, fmt.Errorf("подсчёт фактов категории %s: %w", c.ID, err)
		}
		if n == c.FactsCount {
			continue
		}
		if err := s.categories.SetFactsCount(ctx, c.ID, n); err != nil {
			return fixed, fmt.Errorf("обновление счётчика категории %s: %w", c.ID, err)
		}
		fixed++
	}
	s.invalidator.Apply(ctx, invalidation.Event{Mutation: invalidation.FactsRecounted})
	s.log.Info().Int("categories", len(cats)).Int("fixed", fixed).Msg("facts: счётчики пересчитаны")
	return fixed, nil
}

// syncCounts записывает актуальный factsCount. Ошибка не отменяет
// основную операцию, расхождение исправит плановый пересчёт.
func (s *Service) syncCounts(ctx context.Context, categoryIDs ...string) {
	for _, id := range categoryIDs {
		if id == "" {
			continue
		}
		n, err := s.facts.CountFacts(ctx, id)
		if err == nil {
			err = s.categories.SetFactsCount(ctx, id, n)
		}
		if err != nil {
			s.log.Error().Err(err).Str("category_id", id).Msg("facts: не удалось обновить счётчик категории")
		}
	}
}

func (s *Service) read(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	found, err := cache.GetJSON(ctx, s.cache, key, dst)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("facts: кэш недоступен")
		return false
	}
	return found
}

func (s *Service) write(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("facts: не удалось записать в кэш")
	}
}
