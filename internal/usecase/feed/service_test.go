package feed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"fact-feed/internal/adapters/ranker"
	"fact-feed/internal/adapters/repo"
	"fact-feed/internal/domain"
	"fact-feed/internal/infra/cache"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *repo.Memory
	cache *cache.MemoryCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := repo.NewMemory().WithClock(func() time.Time { return baseTime })
	c := cache.NewMemory()
	svc := NewService(store, store, store, store, c, ranker.New(7, time.UTC), Options{
		DefaultLimit: 3,
		MaxLimit:     5,
		TTL:          time.Hour,
	}, zerolog.Nop()).WithClock(func() time.Time { return baseTime })
	return fixture{svc: svc, store: store, cache: c}
}

func (f fixture) category(t *testing.T, id string) {
	t.Helper()
	if _, err := f.store.CreateCategory(context.Background(), domain.Category{ID: id, Name: "Категория " + id, IsActive: true}); err != nil {
		t.Fatalf("создание категории: %v", err)
	}
}

// facts создаёт n фактов prefix1..prefixN, последний самый новый.
func (f fixture) facts(t *testing.T, categoryID, prefix string, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("%s%d", prefix, i)
		_, err := f.store.CreateFact(context.Background(), domain.Fact{
			ID:         id,
			Title:      "Факт " + id,
			CategoryID: categoryID,
			CreatedAt:  baseTime.Add(time.Duration(i-n) * time.Hour),
		})
		if err != nil {
			t.Fatalf("создание факта: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func (f fixture) view(t *testing.T, s domain.Subject, ids ...string) {
	t.Helper()
	for i, id := range ids {
		_, err := f.store.InsertView(context.Background(), domain.ViewEvent{
			Subject:  s,
			FactID:   id,
			ViewedAt: baseTime.Add(-time.Duration(48-i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("запись просмотра: %v", err)
		}
	}
}

func idSet(facts []domain.Fact) map[string]struct{} {
	set := make(map[string]struct{}, len(facts))
	for _, f := range facts {
		set[f.ID] = struct{}{}
	}
	return set
}

func TestFeedSkipsViewed(t *testing.T) {
	f := newFixture(t)
	f.category(t, "c")
	f.facts(t, "c", "F", 5)
	subject, _ := domain.NewSubject("", "anon-1")
	f.view(t, subject, "F1", "F2")

	page, err := f.svc.Feed(context.Background(), subject, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got := idSet(page.Facts)
	if len(got) != 3 {
		t.Fatalf("ожидали 3 факта, получили %v", page.Facts)
	}
	for _, id := range []string{"F3", "F4", "F5"} {
		if _, ok := got[id]; !ok {
			t.Fatalf("ожидали %s в ленте, получили %v", id, page.Facts)
		}
	}
	if page.HasMore {
		t.Fatalf("непросмотренных фактов больше нет, hasMore должен быть false")
	}
}

func TestFeedNoRepeatWhileUnseenRemain(t *testing.T) {
	f := newFixture(t)
	f.category(t, "a")
	f.category(t, "b")
	f.facts(t, "a", "A", 6)
	f.facts(t, "b", "B", 6)
	subject, _ := domain.NewSubject("", "anon-2")
	f.view(t, subject, "A6", "B6", "A5")

	page, err := f.svc.Feed(context.Background(), subject, 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(page.Facts) != 5 {
		t.Fatalf("ожидали 5 фактов, получили %d", len(page.Facts))
	}
	for _, fact := range page.Facts {
		if fact.ID == "A6" || fact.ID == "B6" || fact.ID == "A5" {
			t.Fatalf("просмотренный факт %s попал в ленту", fact.ID)
		}
	}
	if !page.HasMore {
		t.Fatalf("осталось 4 непросмотренных факта, hasMore должен быть true")
	}
}

func TestFeedGracefulExhaustion(t *testing.T) {
	f := newFixture(t)
	f.category(t, "c")
	ids := f.facts(t, "c", "F", 10)
	subject, _ := domain.NewSubject("", "anon-3")
	f.view(t, subject, ids[:8]...)

	page, err := f.svc.Feed(context.Background(), subject, 5)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(page.Facts) != 5 {
		t.Fatalf("ожидали 5 фактов, получили %d", len(page.Facts))
	}
	head := idSet(page.Facts[:2])
	for _, id := range []string{"F9", "F10"} {
		if _, ok := head[id]; !ok {
			t.Fatalf("непросмотренные факты должны идти первыми, получили %v", page.Facts)
		}
	}
	viewed := idSet(nil)
	for _, id := range ids[:8] {
		viewed[id] = struct{}{}
	}
	for _, fact := range page.Facts[2:] {
		if _, ok := viewed[fact.ID]; !ok {
			t.Fatalf("добор должен состоять из просмотренных фактов, получили %s", fact.ID)
		}
	}
	if len(idSet(page.Facts)) != 5 {
		t.Fatalf("в ленте есть повторы: %v", page.Facts)
	}
	if page.HasMore {
		t.Fatalf("hasMore должен быть false")
	}
}

func TestFeedCachedUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.category(t, "c")
	f.facts(t, "c", "F", 2)
	subject, _ := domain.NewSubject("", "anon-4")

	first, err := f.svc.Feed(ctx, subject, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	keys, _ := f.cache.Keys(ctx, cache.NSFeed+":*")
	if len(keys) != 1 {
		t.Fatalf("ожидали одну ленту в кэше, получили %v", keys)
	}
	if _, err := f.store.CreateFact(ctx, domain.Fact{ID: "new", Title: "Новый", CategoryID: "c", CreatedAt: baseTime}); err != nil {
		t.Fatalf("создание факта: %v", err)
	}
	second, _ := f.svc.Feed(ctx, subject, 3)
	if len(second.Facts) != len(first.Facts) {
		t.Fatalf("ожидали ответ из кэша, получили %v", second.Facts)
	}

	if _, err := f.cache.DeleteByPattern(ctx, cache.SubjectFeedPatterns(subject)[0]); err != nil {
		t.Fatalf("очистка кэша: %v", err)
	}
	third, _ := f.svc.Feed(ctx, subject, 3)
	if _, ok := idSet(third.Facts)["new"]; !ok {
		t.Fatalf("после сброса кэша ожидали новый факт, получили %v", third.Facts)
	}
}

func TestFeedErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.category(t, "c")
	f.facts(t, "c", "F", 3)
	anon, _ := domain.NewSubject("", "anon")
	ghost, _ := domain.NewSubject("ghost", "")
	stale, _ := domain.NewSubject("u-stale", "")
	_ = f.store.SetInterests(ctx, "u-stale", []string{"c", "removed"})

	if _, err := f.svc.Feed(ctx, domain.Subject{}, 3); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("без зрителя ожидали ErrValidation, получили %v", err)
	}
	if _, err := f.svc.Feed(ctx, ghost, 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("для неизвестного пользователя ожидали ErrNotFound, получили %v", err)
	}
	if _, err := f.svc.CategoryFeed(ctx, stale, "c", 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("для интереса к удалённой категории в ленте категории ожидали ErrNotFound, получили %v", err)
	}
	if _, err := f.svc.CategoryFeed(ctx, anon, "nope", 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("для неизвестной категории ожидали ErrNotFound, получили %v", err)
	}
	if _, err := f.svc.CategoryFeed(ctx, anon, " ", 3); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("без категории ожидали ErrValidation, получили %v", err)
	}
}

func TestFeedSkipsDeletedInterest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.category(t, "a")
	f.category(t, "gone")
	f.facts(t, "a", "A", 4)
	if err := f.store.SetInterests(ctx, "u1", []string{"a", "gone"}); err != nil {
		t.Fatalf("сохранение интересов: %v", err)
	}
	if _, err := f.store.DeleteCategory(ctx, "gone"); err != nil {
		t.Fatalf("удаление пустой категории: %v", err)
	}
	user, _ := domain.NewSubject("u1", "")

	page, err := f.svc.Feed(ctx, user, 3)
	if err != nil {
		t.Fatalf("общая лента не должна падать из-за удалённой категории интересов: %v", err)
	}
	if len(page.Facts) != 3 || !page.HasMore {
		t.Fatalf("ожидали 3 факта и hasMore, получили %d и %v", len(page.Facts), page.HasMore)
	}
	if _, err := f.svc.CategoryFeed(ctx, user, "a", 3); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("лента категории должна вернуть ErrNotFound, получили %v", err)
	}
}

func TestFeedWithInterests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.category(t, "a")
	f.category(t, "b")
	f.facts(t, "a", "A", 4)
	f.facts(t, "b", "B", 4)
	user, _ := domain.NewSubject("u1", "")
	_ = f.store.SetInterests(ctx, "u1", []string{"b"})

	page, err := f.svc.Feed(ctx, user, 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(page.Facts) != 3 {
		t.Fatalf("ожидали 3 факта, получили %d", len(page.Facts))
	}
	if page.Facts[0].CategoryID != "b" {
		t.Fatalf("первым ожидали факт из интересной категории, получили %+v", page.Facts[0])
	}
}

func TestCategoryFeedStaysInCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.category(t, "a")
	f.category(t, "b")
	f.facts(t, "a", "A", 2)
	f.facts(t, "b", "B", 5)
	subject, _ := domain.NewSubject("", "anon-5")
	f.view(t, subject, "A1")

	page, err := f.svc.CategoryFeed(ctx, subject, "a", 3)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(page.Facts) != 2 {
		t.Fatalf("в категории всего 2 факта, получили %v", page.Facts)
	}
	if page.Facts[0].ID != "A2" || page.Facts[1].ID != "A1" {
		t.Fatalf("ожидали A2, затем A1, получили %v", page.Facts)
	}
	if page.HasMore {
		t.Fatalf("hasMore должен быть false")
	}
}

func TestLimitClamp(t *testing.T) {
	f := newFixture(t)
	cases := []struct{ in, want int }{{0, 3}, {-1, 3}, {4, 4}, {50, 5}}
	for _, tc := range cases {
		if got := f.svc.Limit(tc.in); got != tc.want {
			t.Fatalf("Limit(%d) = %d, ожидали %d", tc.in, got, tc.want)
		}
	}
}

func TestLatest(t *testing.T) {
	f := newFixture(t)
	f.category(t, "c")
	f.facts(t, "c", "F", 4)

	page, err := f.svc.Latest(context.Background(), 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(page.Facts) != 2 || page.Facts[0].ID != "F4" || page.Facts[1].ID != "F3" {
		t.Fatalf("ожидали F4, F3, получили %v", page.Facts)
	}
	if !page.HasMore {
		t.Fatalf("hasMore должен быть true")
	}
}
