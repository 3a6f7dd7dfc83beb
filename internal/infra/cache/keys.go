package cache

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

// Пространства имён ключей.
const (
	NSFact          = "fact"
	NSFactList      = "fact:list"
	NSFeed          = "fact:feed"
	NSCategoryFeed  = "fact:category-feed"
	NSFactCount     = "fact:count"
	NSCategory      = "category"
	NSCategoryList  = "category:list"
	factCountTotal  = "fact:count:total"
	factCountPrefix = "fact:count:category:"
)

// ParamsKey строит детерминированный ключ из пространства имён и параметров.
// Поля структур сериализуются в порядке объявления, ключи map по алфавиту.
func ParamsKey(namespace string, params any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", namespace, params)
	}
	return namespace + ":" + string(raw)
}

// FactKey: ключ отдельного факта.
func FactKey(id string) string { return NSFact + ":" + id }

// CategoryKey: ключ отдельной категории.
func CategoryKey(id string) string { return NSCategory + ":" + id }

// FactCountKey: ключ количества фактов; пустая категория означает общий счётчик.
func FactCountKey(categoryID string) string {
	if categoryID == "" {
		return factCountTotal
	}
	return factCountPrefix + categoryID
}

// FeedKey: ключ персональной ленты зрителя.
func FeedKey(subject domain.Subject, params any) string {
	return ParamsKey(NSFeed+":"+subject.Key(), params)
}

// CategoryFeedKey: ключ ленты зрителя в одной категории.
func CategoryFeedKey(subject domain.Subject, params any) string {
	return ParamsKey(NSCategoryFeed+":"+subject.Key(), params)
}

// SubjectFeedPatterns возвращает шаблоны всех лент зрителя.
func SubjectFeedPatterns(subject domain.Subject) []string {
	key := EscapeGlob(subject.Key())
	return []string{
		NSFeed + ":" + key + ":*",
		NSCategoryFeed + ":" + key + ":*",
	}
}

// GetJSON читает и декодирует значение. Ошибка хранилища возвращается как есть,
// повреждённое значение считается промахом.
func GetJSON(ctx context.Context, c domain.Cache, key string, dst any) (bool, error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil {
		metrics.IncCache("get", "error")
		return false, err
	}
	if !found {
		metrics.IncCache("get", "miss")
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		metrics.IncCache("get", "corrupt")
		return false, nil
	}
	metrics.IncCache("get", "hit")
	return true, nil
}

// SetJSON кодирует и записывает значение с TTL.
func SetJSON(ctx context.Context, c domain.Cache, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("кодирование значения кэша: %w", err)
	}
	if err := c.Set(ctx, key, raw, ttl); err != nil {
		metrics.IncCache("set", "error")
		return err
	}
	metrics.IncCache("set", "ok")
	return nil
}
