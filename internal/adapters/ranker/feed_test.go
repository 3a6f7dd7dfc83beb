package ranker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fact-feed/internal/domain"
)

type stubSource struct {
	unseen       []domain.Fact
	seen         []domain.SeenFact
	unseenLimit  int
	resurfaceLim int
}

func (s *stubSource) Unseen(_ context.Context, limit int) ([]domain.Fact, error) {
	s.unseenLimit = limit
	if len(s.unseen) > limit {
		return s.unseen[:limit], nil
	}
	return s.unseen, nil
}

func (s *stubSource) Resurface(_ context.Context, limit int) ([]domain.SeenFact, error) {
	s.resurfaceLim = limit
	if len(s.seen) > limit {
		return s.seen[:limit], nil
	}
	return s.seen, nil
}

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func fact(id, cat string, created time.Time) domain.Fact {
	return domain.Fact{ID: id, CategoryID: cat, CreatedAt: created}
}

func weights(m map[string]float64) WeightFunc {
	return func(_ context.Context, id string) (float64, error) {
		if w, ok := m[id]; ok {
			return w, nil
		}
		return 0.5, nil
	}
}

func ids(facts []domain.Fact) []string {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.ID)
	}
	return out
}

func TestRankPrimaryNoRepeat(t *testing.T) {
	src := &stubSource{}
	for i := 0; i < 20; i++ {
		src.unseen = append(src.unseen, fact(fmt.Sprintf("f%d", i), "c", now.Add(-time.Duration(i)*time.Hour)))
	}
	r := New(1, time.UTC)
	res, err := r.Rank(context.Background(), RankRequest{Limit: 5, Source: src, Now: now, Signal: domain.PreferenceSignal{PreferredHour: 12}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if src.unseenLimit != 15 {
		t.Fatalf("пул должен быть 3×limit, запросили %d", src.unseenLimit)
	}
	if len(res.Facts) != 5 || res.Resurfaced != 0 {
		t.Fatalf("ожидали 5 новых фактов, получили %v", ids(res.Facts))
	}
	seen := make(map[string]bool)
	for _, f := range res.Facts {
		if seen[f.ID] {
			t.Fatalf("факт %s повторился", f.ID)
		}
		seen[f.ID] = true
	}
}

func TestRankInterestBoost(t *testing.T) {
	src := &stubSource{unseen: []domain.Fact{
		fact("a1", "A", now), fact("a2", "A", now),
		fact("b1", "B", now), fact("b2", "B", now),
	}}
	r := New(1, time.UTC)
	res, err := r.Rank(context.Background(), RankRequest{
		Limit:     2,
		Source:    src,
		Weight:    weights(map[string]float64{"A": 1.0, "B": 0.8}),
		Interests: map[string]struct{}{"B": {}},
		Signal:    domain.PreferenceSignal{PreferredHour: 12},
		Now:       now,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got := ids(res.Facts)
	if got[0] != "b1" || got[1] != "b2" {
		t.Fatalf("заявленный интерес должен поднять B наверх, получили %v", got)
	}
}

func TestRankDiversityBonus(t *testing.T) {
	src := &stubSource{unseen: []domain.Fact{
		fact("a1", "A", now), fact("a2", "A", now), fact("a3", "A", now),
		fact("a4", "A", now), fact("a5", "A", now), fact("b1", "B", now),
	}}
	r := New(1, time.UTC)
	res, err := r.Rank(context.Background(), RankRequest{
		Limit:  5,
		Source: src,
		Weight: weights(map[string]float64{"A": 1.0, "B": 0.9}),
		Signal: domain.PreferenceSignal{PreferredHour: 12},
		Now:    now,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := []string{"a1", "a2", "a3", "a4", "b1"}
	got := ids(res.Facts)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ожидали %v, получили %v", want, got)
		}
	}
}

func TestRankFallbackFillsFromHistory(t *testing.T) {
	src := &stubSource{unseen: []domain.Fact{fact("u1", "A", now), fact("u2", "B", now)}}
	for i := 0; i < 8; i++ {
		src.seen = append(src.seen, domain.SeenFact{
			Fact:     fact(fmt.Sprintf("s%d", i), "A", now.Add(-48*time.Hour)),
			ViewedAt: now.Add(-time.Duration(8-i) * 24 * time.Hour),
		})
	}
	r := New(7, time.UTC)
	res, err := r.Rank(context.Background(), RankRequest{Limit: 5, Source: src, Now: now, Signal: domain.PreferenceSignal{PreferredHour: 12}})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if src.resurfaceLim != 6 {
		t.Fatalf("рабочий набор повторов должен быть 2×remaining, запросили %d", src.resurfaceLim)
	}
	got := ids(res.Facts)
	if len(got) != 5 || res.Resurfaced != 3 {
		t.Fatalf("ожидали 2 новых и 3 повторных, получили %v", got)
	}
	if got[0] != "u1" || got[1] != "u2" {
		t.Fatalf("новые факты должны идти первыми, получили %v", got)
	}
	allowed := map[string]bool{"s0": true, "s1": true, "s2": true, "s3": true, "s4": true, "s5": true}
	for _, id := range got[2:] {
		if !allowed[id] {
			t.Fatalf("повтор %s не из рабочего набора", id)
		}
	}
}

func TestRankFallbackReproducibleWithSeed(t *testing.T) {
	build := func() *stubSource {
		src := &stubSource{}
		for i := 0; i < 10; i++ {
			src.seen = append(src.seen, domain.SeenFact{
				Fact:     fact(fmt.Sprintf("s%d", i), "A", now),
				ViewedAt: now.Add(-72 * time.Hour),
			})
		}
		return src
	}
	run := func(seed int64) []string {
		res, err := New(seed, time.UTC).Rank(context.Background(), RankRequest{Limit: 5, Source: build(), Now: now})
		if err != nil {
			t.Fatalf("не ожидали ошибку: %v", err)
		}
		return ids(res.Facts)
	}
	first, second := run(42), run(42)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("одинаковое зерно дало разный порядок: %v и %v", first, second)
		}
	}
}

func TestRankJitterRange(t *testing.T) {
	r := New(3, time.UTC)
	for i := 0; i < 1000; i++ {
		j := r.jitter()
		if j < 0.8 || j >= 1.2 {
			t.Fatalf("множитель %v вне [0.8, 1.2)", j)
		}
	}
}

func TestRankPropagatesWeightError(t *testing.T) {
	src := &stubSource{unseen: []domain.Fact{fact("a", "A", now)}}
	boom := errors.New("engagement failed")
	_, err := New(1, time.UTC).Rank(context.Background(), RankRequest{
		Limit:  1,
		Source: src,
		Weight: func(context.Context, string) (float64, error) { return 0, boom },
		Now:    now,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали ошибку веса, получили %v", err)
	}
}

func TestRankWeightMemoized(t *testing.T) {
	src := &stubSource{unseen: []domain.Fact{fact("a1", "A", now), fact("a2", "A", now), fact("a3", "A", now)}}
	calls := 0
	_, err := New(1, time.UTC).Rank(context.Background(), RankRequest{
		Limit:  3,
		Source: src,
		Weight: func(context.Context, string) (float64, error) { calls++; return 1, nil },
		Now:    now,
	})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if calls != 1 {
		t.Fatalf("вес категории должен считаться один раз, вызовов %d", calls)
	}
}

func TestSelectDiverseBonusOnlyForNewCategory(t *testing.T) {
	mk := func(id, cat string, score float64) scored {
		return scored{fact: domain.Fact{ID: id, CategoryID: cat}, score: score}
	}
	items := []scored{
		mk("x1", "x", 1.0),
		mk("x2", "x", 0.99),
		mk("x3", "x", 0.98),
		mk("x4", "x", 0.97),
		mk("x5", "x", 0.96),
		mk("y1", "y", 0.90),
	}
	got := selectDiverse(items, 6)
	want := []string{"x1", "x2", "x3", "x4", "y1", "x5"}
	if len(got) != len(want) {
		t.Fatalf("ожидали %d фактов, получили %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("позиция %d: ожидали %s, получили %s", i, id, got[i].ID)
		}
	}
}
