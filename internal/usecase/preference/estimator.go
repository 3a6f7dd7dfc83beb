// Package preference оценивает привычки зрителя по истории просмотров.
// Все функции чистые и не обращаются к хранилищу.
package preference

import (
	"math"
	"time"

	"fact-feed/internal/domain"
)

// Значения по умолчанию для зрителя без истории.
const (
	DefaultPreferredHour       = 12
	DefaultAverageViewDuration = 30.0
	DefaultCompletionRate      = 0.7
	// DefaultCategoryWeight: вес категории без сведений о зрителе.
	DefaultCategoryWeight = 0.5
	// RecentViewsLimit: сколько последних просмотров учитывается.
	RecentViewsLimit = 100
)

// ColdStart возвращает сигнал для зрителя без истории.
func ColdStart() domain.PreferenceSignal {
	return domain.PreferenceSignal{
		PreferredHour:       DefaultPreferredHour,
		AverageViewDuration: DefaultAverageViewDuration,
		CompletionRate:      DefaultCompletionRate,
	}
}

// EstimateViewingPatterns находит самый частый час просмотров в поясе loc.
// При равенстве выигрывает меньший час.
func EstimateViewingPatterns(views []domain.ViewEvent, loc *time.Location) domain.PreferenceSignal {
	signal := ColdStart()
	if len(views) == 0 {
		return signal
	}
	if loc == nil {
		loc = time.UTC
	}
	var hours [24]int
	for _, v := range views {
		hours[v.ViewedAt.In(loc).Hour()]++
	}
	best := 0
	for h := 1; h < len(hours); h++ {
		if hours[h] > hours[best] {
			best = h
		}
	}
	signal.PreferredHour = best
	return signal
}

// EstimateCategoryAffinity считает вес 0.5 + count/maxCount по категориям
// просмотренных фактов. Категорий без просмотров в результате нет.
func EstimateCategoryAffinity(views []domain.ViewEvent, facts map[string]domain.Fact) domain.CategoryAffinity {
	counts := make(map[string]int)
	maxCount := 0
	for _, v := range views {
		f, ok := facts[v.FactID]
		if !ok || f.CategoryID == "" {
			continue
		}
		counts[f.CategoryID]++
		if counts[f.CategoryID] > maxCount {
			maxCount = counts[f.CategoryID]
		}
	}
	affinity := make(domain.CategoryAffinity, len(counts))
	for id, c := range counts {
		affinity[id] = DefaultCategoryWeight + float64(c)/float64(maxCount)
	}
	return affinity
}

// AffinityWeight возвращает вес категории из отображения или вес по умолчанию.
func AffinityWeight(affinity domain.CategoryAffinity, categoryID string) float64 {
	if w, ok := affinity[categoryID]; ok {
		return w
	}
	return DefaultCategoryWeight
}

// EngagementWeight: вес категории для ленты внутри одной категории.
func EngagementWeight(e domain.CategoryEngagement, found bool, now time.Time) float64 {
	if !found || e.ViewCount == 0 {
		return DefaultCategoryWeight
	}
	avg := e.AverageViewDuration
	if avg == 0 {
		avg = DefaultAverageViewDuration
	}
	completion := e.CompletionRate
	if completion == 0 {
		completion = DefaultCompletionRate
	}
	score := float64(e.ViewCount)*0.4 + avg/60*0.3 + completion*0.3
	return score * math.Exp(-0.1*days(now.Sub(e.LastViewedAt))) / 10
}

// TimeRelevance поощряет факты, созданные около привычного часа зрителя.
func TimeRelevance(createdAt time.Time, signal domain.PreferenceSignal, loc *time.Location) float64 {
	if loc == nil {
		loc = time.UTC
	}
	diff := math.Abs(float64(createdAt.In(loc).Hour() - signal.PreferredHour))
	return math.Exp(-diff / 6)
}

// FreshnessDecay: затухание непросмотренного факта по возрасту.
func FreshnessDecay(age time.Duration) float64 {
	return math.Exp(-0.05 * days(age))
}

// ResurfaceDecay: затухание повторно показываемого факта по времени с просмотра.
func ResurfaceDecay(sinceViewed time.Duration) float64 {
	return math.Exp(-0.1 * days(sinceViewed))
}

func days(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Hours() / 24
}
