// Package invalidation удаляет записи кэша, устаревшие после изменений
// в хранилище. Какие ключи чистить, задаёт таблица Table.
package invalidation

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/cache"
	"fact-feed/internal/infra/metrics"
)

// Mutation: вид изменения в хранилище.
type Mutation string

const (
	FactCreated               Mutation = "fact_created"
	FactUpdated               Mutation = "fact_updated"
	FactDeleted               Mutation = "fact_deleted"
	CategoryFactsCountChanged Mutation = "category_facts_count_changed"
	CategoryCreated           Mutation = "category_created"
	CategoryUpdated           Mutation = "category_updated"
	CategoryDeleted           Mutation = "category_deleted"
	ViewRecorded              Mutation = "view_recorded"
	InterestsChanged          Mutation = "interests_changed"
	FactsRecounted            Mutation = "facts_recounted"
)

// Event описывает одно изменение и его предмет.
type Event struct {
	Mutation   Mutation
	FactID     string
	CategoryID string
	Subject    domain.Subject
}

// Rule строит точные ключи и glob-шаблоны для события.
type Rule struct {
	Keys     func(Event) []string
	Patterns func(Event) []string
}

func static(patterns ...string) func(Event) []string {
	return func(Event) []string { return patterns }
}

var (
	factPatterns = static(
		cache.NSFactList+":*",
		cache.NSFeed+":*",
		cache.NSCategoryFeed+":*",
		cache.NSFactCount+":*",
	)
	categoryPatterns = static(
		cache.NSCategoryList+":*",
		cache.NSFactList+":*",
		cache.NSFeed+":*",
		cache.NSCategoryFeed+":*",
	)
	factKey     = func(e Event) []string { return nonEmpty(e.FactID, cache.FactKey) }
	categoryKey = func(e Event) []string { return nonEmpty(e.CategoryID, cache.CategoryKey) }
)

func subjectFeeds(e Event) []string {
	if e.Subject.IsZero() {
		return nil
	}
	return cache.SubjectFeedPatterns(e.Subject)
}

// Table сопоставляет виду изменения набор удаляемых ключей.
// Факты встраивают имя категории, поэтому правка категории чистит и списки фактов.
var Table = map[Mutation]Rule{
	FactCreated: {Keys: factKey, Patterns: factPatterns},
	FactUpdated: {Keys: factKey, Patterns: factPatterns},
	FactDeleted: {Keys: factKey, Patterns: factPatterns},
	CategoryFactsCountChanged: {
		Keys:     categoryKey,
		Patterns: static(cache.NSCategoryList + ":*"),
	},
	CategoryCreated: {Keys: categoryKey, Patterns: categoryPatterns},
	CategoryUpdated: {Keys: categoryKey, Patterns: categoryPatterns},
	CategoryDeleted: {Keys: categoryKey, Patterns: categoryPatterns},

	ViewRecorded:     {Patterns: subjectFeeds},
	InterestsChanged: {Patterns: subjectFeeds},

	FactsRecounted: {Patterns: static(cache.NSFact+":*", cache.NSCategory+":*")},
}

func nonEmpty(id string, key func(string) string) []string {
	if id == "" {
		return nil
	}
	return []string{key(id)}
}

// Plan возвращает уникальные ключи и шаблоны для набора событий.
func Plan(events ...Event) (keys, patterns []string) {
	keySet := make(map[string]struct{})
	patternSet := make(map[string]struct{})
	for _, e := range events {
		rule, ok := Table[e.Mutation]
		if !ok {
			continue
		}
		if rule.Keys != nil {
			for _, k := range rule.Keys(e) {
				keySet[k] = struct{}{}
			}
		}
		if rule.Patterns != nil {
			for _, p := range rule.Patterns(e) {
				patternSet[p] = struct{}{}
			}
		}
	}
	return sortedKeys(keySet), sortedKeys(patternSet)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Coordinator применяет таблицу к кэшу. Ошибки кэша журналируются
// и считаются в метриках, но не возвращаются.
type Coordinator struct {
	cache domain.Cache
	log   zerolog.Logger
}

// NewCoordinator создаёт координатор.
func NewCoordinator(c domain.Cache, logger zerolog.Logger) *Coordinator {
	return &Coordinator{cache: c, log: logger}
}

// Apply удаляет записи, затронутые событиями.
func (c *Coordinator) Apply(ctx context.Context, events ...Event) {
	if c == nil || c.cache == nil || len(events) == 0 {
		return
	}
	label := string(events[0].Mutation)
	keys, patterns := Plan(events...)
	if len(keys) > 0 {
		if err := c.cache.Delete(ctx, keys...); err != nil {
			metrics.IncInvalidationError(label)
			c.log.Error().Err(err).Str("mutation", label).Strs("keys", keys).Msg("invalidation: не удалось удалить ключи")
		} else {
			metrics.AddPurgedKeys(label, len(keys))
		}
	}
	for _, p := range patterns {
		n, err := c.cache.DeleteByPattern(ctx, p)
		if err != nil {
			metrics.IncInvalidationError(label)
			c.log.Error().Err(err).Str("mutation", label).Str("pattern", p).Msg("invalidation: не удалось удалить по шаблону")
			continue
		}
		metrics.AddPurgedKeys(label, n)
	}
	c.log.Debug().Str("mutation", label).Int("keys", len(keys)).Int("patterns", len(patterns)).Msg("invalidation: кэш очищен")
}
