package stats

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fact-feed/internal/domain"
)

const (
	topLimit      = 10
	activityLimit = 20
	// DefaultDays: глубина дневной статистики по умолчанию.
	DefaultDays = 7
	maxDays     = 90
)

// Service собирает статистику для админки.
type Service struct {
	facts      domain.FactRepo
	categories domain.CategoryRepo
	agg        domain.Aggregator
	now        func() time.Time
}

// NewService создаёт сервис статистики.
func NewService(facts domain.FactRepo, categories domain.CategoryRepo, agg domain.Aggregator) *Service {
	return &Service{facts: facts, categories: categories, agg: agg, now: time.Now}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Dashboard выполняет независимые запросы параллельно и ждёт их все.
// Первая ошибка отменяет остальные.
func (s *Service) Dashboard(ctx context.Context, days int) (domain.Dashboard, error) {
	if days <= 0 {
		days = DefaultDays
	}
	if days > maxDays {
		days = maxDays
	}
	now := s.now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	var d domain.Dashboard
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.TotalFacts, err = s.facts.CountFacts(ctx, "")
		return wrap("число фактов", err)
	})
	g.Go(func() (err error) {
		d.TotalCategories, err = s.categories.CountCategories(ctx, true)
		return wrap("число категорий", err)
	})
	g.Go(func() (err error) {
		d.TopCategories, err = s.agg.TopCategoriesByViews(ctx, topLimit)
		return wrap("топ категорий", err)
	})
	g.Go(func() (err error) {
		d.TopFacts, err = s.agg.TopFactsByViews(ctx, topLimit)
		return wrap("топ фактов", err)
	})
	g.Go(func() (err error) {
		d.SubjectActivity, err = s.agg.SubjectViewActivity(ctx, activityLimit)
		return wrap("активность зрителей", err)
	})
	g.Go(func() (err error) {
		d.DailyActivity, err = s.agg.DailyActivity(ctx, since)
		return wrap("активность по дням", err)
	})
	g.Go(func() (err error) {
		d.HourlyActivity, err = s.agg.HourlyActivity(ctx)
		return wrap("активность по часам", err)
	})
	if err := g.Wait(); err != nil {
		return domain.Dashboard{}, err
	}
	d.GeneratedAt = now
	return d, nil
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
