package categories

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

// Service управляет категориями фактов.
type Service struct {
	repo        domain.CategoryRepo
	users       domain.UserRepo
	cache       domain.Cache
	ttl         time.Duration
	invalidator *invalidation.Coordinator
	log         zerolog.Logger
}

// NewService создаёт сервис категорий.
func NewService(repo domain.CategoryRepo, users domain.UserRepo, c domain.Cache, ttl time.Duration, invalidator *invalidation.Coordinator, logger zerolog.Logger) *Service {
	return &Service{
		repo:        repo,
		users:       users,
		cache:       c,
		ttl:         ttl,
		invalidator: invalidator,
		log:         logger.With().Str("component", "categories").Logger(),
	}
}

// Create добавляет категорию. Имя должно быть уникальным.
func (s *Service) Create(ctx context.Context, in domain.CategoryInput) (domain.Category, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return domain.Category{}, err
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	c, err := s.repo.CreateCategory(ctx, domain.Category{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Image:       in.Image,
		IsActive:    active,
		SortOrder:   in.SortOrder,
	})
	if err != nil {
		return domain.Category{}, fmt.Errorf("сохранение категории: %w", err)
	}
	s.invalidator.Apply(ctx, invalidation.Event{Mutation: invalidation.CategoryCreated, CategoryID: c.ID})
	s.log.Info().Str("category_id", c.ID).Str("name", c.Name).Msg("categories: категория создана")
	return c, nil
}

// Update частично изменяет категорию.
func (s *Service) Update(ctx context.Context, id string, patch domain.CategoryPatch) (domain.Category, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Category{}, fmt.Errorf("%w: айди категории обязателен", domain.ErrValidation)
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		patch.Name = &name
	}
	if err := validation.Struct(patch); err != nil {
		return domain.Category{}, err
	}
	c, err := s.repo.UpdateCategory(ctx, id, patch)
	if err != nil {
		return domain.Category{}, fmt.Errorf("обновление категории: %w", err)
	}
	s.invalidator.Apply(ctx, invalidation.Event{Mutation: invalidation.CategoryUpdated, CategoryID: id})
	return c, nil
}

// Delete удаляет пустую категорию. Категорию с фактами удалить нельзя.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: айди категории обязателен", domain.ErrValidation)
	}
	if _, err := s.repo.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("удаление категории: %w", err)
	}
	s.invalidator.Apply(ctx, invalidation.Event{Mutation: invalidation.CategoryDeleted, CategoryID: id})
	s.log.Info().Str("category_id", id).Msg("categories: категория удалена")
	return nil
}

// Get возвращает категорию по айди.
func (s *Service) Get(ctx context.Context, id string) (domain.Category, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Category{}, fmt.Errorf("%w: айди категории обязателен", domain.ErrValidation)
	}
	key := cache.CategoryKey(id)
	var c domain.Category
	if s.read(ctx, key, &c) {
		return c, nil
	}
	c, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, fmt.Errorf("получение категории: %w", err)
	}
	s.write(ctx, key, c)
	return c, nil
}

// List возвращает категории по возрастанию sortOrder.
func (s *Service) List(ctx context.Context, q domain.CategoryQuery) ([]domain.Category, error) {
	key := cache.ParamsKey(cache.NSCategoryList, q)
	var out []domain.Category
	if s.read(ctx, key, &out) {
		return out, nil
	}
	out, err := s.repo.ListCategories(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("список категорий: %w", err)
	}
	if out == nil {
		out = []domain.Category{}
	}
	s.write(ctx, key, out)
	return out, nil
}

// SetInterests заменяет заявленные интересы пользователя.
// Все категории должны существовать.
func (s *Service) SetInterests(ctx context.Context, userID string, categoryIDs []string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: айди пользователя обязателен", domain.ErrValidation)
	}
	ids := dedupe(categoryIDs)
	missing, err := s.repo.MissingCategories(ctx, ids)
	if err != nil {
		return fmt.Errorf("проверка категорий: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: категории %s", domain.ErrNotFound, strings.Join(missing, ", "))
	}
	if err := s.users.SetInterests(ctx, userID, ids); err != nil {
		return fmt.Errorf("сохранение интересов: %w", err)
	}
	subject := domain.Subject{Kind: domain.SubjectUser, ID: userID}
	s.invalidator.Apply(ctx, invalidation.Event{Mutation: invalidation.InterestsChanged, Subject: subject})
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *Service) read(ctx context.Context, key string, dst any) bool {
	if s.cache == nil {
		return false
	}
	found, err := cache.GetJSON(ctx, s.cache, key, dst)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("categories: кэш недоступен")
		return false
	}
	return found
}

func (s *Service) write(ctx context.Context, key string, v any) {
	if s.cache == nil {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, v, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("categories: не удалось записать в кэш")
	}
}
