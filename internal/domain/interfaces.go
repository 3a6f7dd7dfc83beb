package domain

import (
	"context"
	"time"
)

// FactRepo хранит факты.
type FactRepo interface {
	CreateFact(ctx context.Context, fact Fact) (Fact, error)
	// UpdateFact применяет patch и возвращает факт до и после изменения.
	UpdateFact(ctx context.Context, id string, patch FactPatch) (before Fact, after Fact, err error)
	DeleteFact(ctx context.Context, id string) (Fact, error)
	GetFact(ctx context.Context, id string) (Fact, error)
	GetFactsByIDs(ctx context.Context, ids []string) ([]Fact, error)
	ListFacts(ctx context.Context, query FactQuery) ([]Fact, int, error)
	LatestFacts(ctx context.Context, categoryID string, limit int) ([]Fact, error)
	// ListUnseen возвращает факты вне Exclude, новые первыми.
	ListUnseen(ctx context.Context, query UnseenQuery) ([]Fact, error)
	// ExistsOutside проверяет, есть ли хотя бы один факт вне exclude.
	ExistsOutside(ctx context.Context, categoryID string, exclude []string) (bool, error)
	CountFacts(ctx context.Context, categoryID string) (int, error)
}

// CategoryRepo хранит категории.
type CategoryRepo interface {
	CreateCategory(ctx context.Context, category Category) (Category, error)
	UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (Category, error)
	DeleteCategory(ctx context.Context, id string) (Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	ListCategories(ctx context.Context, query CategoryQuery) ([]Category, error)
	// MissingCategories возвращает идентификаторы из ids, которых нет в хранилище.
	MissingCategories(ctx context.Context, ids []string) ([]string, error)
	SetFactsCount(ctx context.Context, id string, count int) error
	CountCategories(ctx context.Context, onlyActive bool) (int, error)
}

// ViewLedger: журнал просмотров только на добавление.
type ViewLedger interface {
	// InsertView добавляет просмотр. Повтор пары (зритель, факт) возвращает false без ошибки.
	InsertView(ctx context.Context, event ViewEvent) (bool, error)
	ViewedFacts(ctx context.Context, subject Subject) ([]ViewedFact, error)
	RecentViews(ctx context.Context, subject Subject, limit int) ([]ViewEvent, error)
	// CategoryEngagement возвращает found=false, если просмотров в категории нет.
	CategoryEngagement(ctx context.Context, subject Subject, categoryID string) (CategoryEngagement, bool, error)
}

// Aggregator считает статистику по журналу просмотров.
type Aggregator interface {
	FactViewCounts(ctx context.Context, factIDs []string) (map[string]int, error)
	TopCategoriesByViews(ctx context.Context, limit int) ([]CategoryViews, error)
	TopFactsByViews(ctx context.Context, limit int) ([]FactViews, error)
	SubjectViewActivity(ctx context.Context, limit int) ([]SubjectActivity, error)
	DailyActivity(ctx context.Context, since time.Time) ([]DailyActivity, error)
	HourlyActivity(ctx context.Context) ([]HourlyActivity, error)
}

// UserRepo хранит заявленные интересы пользователя.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (User, error)
	// SetInterests заменяет интересы, создавая пользователя при необходимости.
	SetInterests(ctx context.Context, userID string, categoryIDs []string) error
}

// Cache: хранилище ключ/значение с TTL и удалением по glob-шаблону.
type Cache interface {
	// Get возвращает found=false при промахе.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeleteByPattern удаляет ключи по glob-шаблону и возвращает их число.
	DeleteByPattern(ctx context.Context, pattern string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}
