package feed

import (
	"context"
	"fmt"
	"sort"

	"fact-feed/internal/domain"
)

// historySource поставляет кандидатов ленты по истории просмотров зрителя.
// Пустая categoryID означает все категории.
type historySource struct {
	facts      domain.FactRepo
	categoryID string
	viewed     []domain.ViewedFact
}

func (h *historySource) viewedIDs() []string {
	ids := make([]string, 0, len(h.viewed))
	for _, v := range h.viewed {
		ids = append(ids, v.FactID)
	}
	return ids
}

func (h *historySource) Unseen(ctx context.Context, limit int) ([]domain.Fact, error) {
	facts, err := h.facts.ListUnseen(ctx, domain.UnseenQuery{
		CategoryID: h.categoryID,
		Exclude:    h.viewedIDs(),
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("непросмотренные факты: %w", err)
	}
	return facts, nil
}

// Resurface отдаёт давно просмотренные факты первыми. Удалённые факты
// и факты вне категории пропускаются.
func (h *historySource) Resurface(ctx context.Context, limit int) ([]domain.SeenFact, error) {
	if limit <= 0 || len(h.viewed) == 0 {
		return nil, nil
	}
	ordered := append([]domain.ViewedFact(nil), h.viewed...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ViewedAt.Before(ordered[j].ViewedAt) })

	facts, err := h.facts.GetFactsByIDs(ctx, h.viewedIDs())
	if err != nil {
		return nil, fmt.Errorf("просмотренные факты: %w", err)
	}
	byID := make(map[string]domain.Fact, len(facts))
	for _, f := range facts {
		byID[f.ID] = f
	}
	out := make([]domain.SeenFact, 0, limit)
	for _, v := range ordered {
		f, ok := byID[v.FactID]
		if !ok || (h.categoryID != "" && f.CategoryID != h.categoryID) {
			continue
		}
		out = append(out, domain.SeenFact{Fact: f, ViewedAt: v.ViewedAt})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
