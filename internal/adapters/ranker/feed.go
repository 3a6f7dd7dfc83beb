package ranker

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"fact-feed/internal/domain"
	"fact-feed/internal/usecase/preference"
)

const (
	// poolFactor: во сколько раз пул непросмотренных больше лимита.
	poolFactor = 3
	// resurfaceFactor: во сколько раз рабочий набор повторов больше недостающего.
	resurfaceFactor = 2
	interestBoost   = 1.5
	diversityFloor  = 0.3
	diversityBonus  = 1.2
	jitterMin       = 0.8
	jitterSpan      = 0.4
)

// CandidateSource поставляет кандидатов для одной ленты.
type CandidateSource interface {
	// Unseen возвращает до limit непросмотренных фактов, новые первыми.
	Unseen(ctx context.Context, limit int) ([]domain.Fact, error)
	// Resurface возвращает до limit просмотренных фактов, давно просмотренные первыми.
	Resurface(ctx context.Context, limit int) ([]domain.SeenFact, error)
}

// WeightFunc возвращает вес интереса зрителя к категории.
type WeightFunc func(ctx context.Context, categoryID string) (float64, error)

// RankRequest: входные данные ранжирования.
type RankRequest struct {
	Limit     int
	Source    CandidateSource
	Weight    WeightFunc
	Interests map[string]struct{}
	Signal    domain.PreferenceSignal
	Now       time.Time
}

// RankResult: выбранные факты: сначала новые, затем повторные.
type RankResult struct {
	Facts      []domain.Fact
	Resurfaced int
}

// FeedRanker отбирает и упорядочивает факты ленты.
type FeedRanker struct {
	loc *time.Location

	mu  sync.Mutex
	rnd *rand.Rand
}

// New создаёт ранжировщик. Нулевой seed берёт случайное зерно.
func New(seed int64, loc *time.Location) *FeedRanker {
	if loc == nil {
		loc = time.UTC
	}
	var src rand.Source
	if seed == 0 {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	} else {
		src = rand.NewPCG(uint64(seed), uint64(seed))
	}
	return &FeedRanker{loc: loc, rnd: rand.New(src)}
}

type scored struct {
	fact  domain.Fact
	score float64
}

// Rank строит страницу ленты. При достаточном пуле непросмотренных факты
// оцениваются и отбираются с поправкой на разнообразие, иначе недостающее
// добирается из давно просмотренных.
func (r *FeedRanker) Rank(ctx context.Context, req RankRequest) (RankResult, error) {
	if req.Limit <= 0 {
		return RankResult{}, nil
	}
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	weights := r.memoize(req.Weight, req.Interests)

	pool, err := req.Source.Unseen(ctx, poolFactor*req.Limit)
	if err != nil {
		return RankResult{}, fmt.Errorf("кандидаты: %w", err)
	}
	if len(pool) >= req.Limit {
		facts, err := r.primary(ctx, req, pool, weights)
		if err != nil {
			return RankResult{}, err
		}
		return RankResult{Facts: facts}, nil
	}

	remaining := req.Limit - len(pool)
	seen, err := req.Source.Resurface(ctx, resurfaceFactor*remaining)
	if err != nil {
		return RankResult{}, fmt.Errorf("история просмотров: %w", err)
	}
	again, err := r.fallback(ctx, req, seen, remaining, weights)
	if err != nil {
		return RankResult{}, err
	}
	out := make([]domain.Fact, 0, len(pool)+len(again))
	out = append(out, pool...)
	out = append(out, again...)
	return RankResult{Facts: out, Resurfaced: len(again)}, nil
}

func (r *FeedRanker) primary(ctx context.Context, req RankRequest, pool []domain.Fact, weight WeightFunc) ([]domain.Fact, error) {
	items := make([]scored, 0, len(pool))
	for _, f := range pool {
		w, err := weight(ctx, f.CategoryID)
		if err != nil {
			return nil, err
		}
		score := w*0.4 +
			preference.FreshnessDecay(req.Now.Sub(f.CreatedAt))*0.3 +
			preference.TimeRelevance(f.CreatedAt, req.Signal, r.loc)*0.3
		items = append(items, scored{fact: f, score: score})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	return selectDiverse(items, req.Limit), nil
}

// selectDiverse жадно набирает limit фактов. Пока доля различных категорий
// среди выбранных ниже порога, кандидаты из новых категорий получают бонус.
// Бонус умножает только счёт кандидатов из ещё не выбранных категорий и
// участвует в выборе, кандидаты из уже выбранных категорий сохраняют свой счёт.
func selectDiverse(items []scored, limit int) []domain.Fact {
	out := make([]domain.Fact, 0, limit)
	cats := make(map[string]struct{})
	for len(out) < limit && len(items) > 0 {
		pick := 0
		if len(out) > 0 && float64(len(cats))/float64(len(out)) < diversityFloor {
			best := -1.0
			for i, it := range items {
				s := it.score
				if _, ok := cats[it.fact.CategoryID]; !ok {
					s *= diversityBonus
				}
				if s > best {
					best, pick = s, i
				}
			}
		}
		chosen := items[pick]
		items = append(items[:pick], items[pick+1:]...)
		out = append(out, chosen.fact)
		cats[chosen.fact.CategoryID] = struct{}{}
	}
	return out
}

func (r *FeedRanker) fallback(ctx context.Context, req RankRequest, seen []domain.SeenFact, remaining int, weight WeightFunc) ([]domain.Fact, error) {
	items := make([]scored, 0, len(seen))
	for _, s := range seen {
		w, err := weight(ctx, s.Fact.CategoryID)
		if err != nil {
			return nil, err
		}
		score := (w*0.3 +
			preference.ResurfaceDecay(req.Now.Sub(s.ViewedAt))*0.4 +
			preference.TimeRelevance(s.Fact.CreatedAt, req.Signal, r.loc)*0.2) * r.jitter()
		items = append(items, scored{fact: s.Fact, score: score})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].score > items[j].score })
	if len(items) > remaining {
		items = items[:remaining]
	}
	out := make([]domain.Fact, 0, len(items))
	for _, it := range items {
		out = append(out, it.fact)
	}
	return out, nil
}

func (r *FeedRanker) jitter() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return jitterMin + jitterSpan*r.rnd.Float64()
}

// memoize запоминает веса категорий на время одного ранжирования
// и применяет множитель заявленных интересов.
func (r *FeedRanker) memoize(weight WeightFunc, interests map[string]struct{}) WeightFunc {
	cache := make(map[string]float64)
	return func(ctx context.Context, categoryID string) (float64, error) {
		if w, ok := cache[categoryID]; ok {
			return w, nil
		}
		w := preference.DefaultCategoryWeight
		if weight != nil {
			var err error
			if w, err = weight(ctx, categoryID); err != nil {
				return 0, fmt.Errorf("вес категории: %w", err)
			}
		}
		if _, ok := interests[categoryID]; ok {
			w *= interestBoost
		}
		cache[categoryID] = w
		return w, nil
	}
}
