package repo

import (
	"context"
	"fmt"
	"time"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

const subjectKeyExpr = `COALESCE('user:' || v.user_id, 'anon:' || v.anon_id)`

// InsertView добавляет просмотр. Повтор пары (зритель, факт) поглощается
// уникальными индексами и возвращает false.
func (p *Postgres) InsertView(ctx context.Context, e domain.ViewEvent) (bool, error) {
	if e.Subject.IsZero() {
		return false, fmt.Errorf("%w: зритель не задан", domain.ErrValidation)
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var userID, anonID *string
	if e.Subject.Authenticated() {
		userID = &e.Subject.ID
	} else {
		anonID = &e.Subject.ID
	}
	var viewedAt *time.Time
	if !e.ViewedAt.IsZero() {
		viewedAt = &e.ViewedAt
	}
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO view_events (user_id, anon_id, fact_id, viewed_at)
VALUES ($1, $2, $3, COALESCE($4, now()))
ON CONFLICT DO NOTHING
`, userID, anonID, e.FactID, viewedAt)
	metrics.ObserveNetworkRequest("postgres", "views_insert", "view_events", start, err)
	if err != nil {
		return false, notFound(err, "факт "+e.FactID)
	}
	return tag.RowsAffected() == 1, nil
}

// ViewedFacts возвращает все просмотры зрителя.
func (p *Postgres) ViewedFacts(ctx context.Context, s domain.Subject) ([]domain.ViewedFact, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	w := &where{}
	w.add(subjectCond("v.", s), s.ID)
	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT v.fact_id::text, v.viewed_at FROM view_events v`+w.String(), w.args...)
	metrics.ObserveNetworkRequest("postgres", "views_viewed", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ViewedFact
	for rows.Next() {
		var vf domain.ViewedFact
		if err := rows.Scan(&vf.FactID, &vf.ViewedAt); err != nil {
			return nil, err
		}
		out = append(out, vf)
	}
	return out, rows.Err()
}

// RecentViews возвращает последние просмотры зрителя, новые первыми.
func (p *Postgres) RecentViews(ctx context.Context, s domain.Subject, limit int) ([]domain.ViewEvent, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	w := &where{}
	w.add(subjectCond("v.", s), s.ID)
	query := `SELECT v.id, v.fact_id::text, v.viewed_at FROM view_events v` + w.String() +
		` ORDER BY v.viewed_at DESC, v.id DESC LIMIT ` + w.arg(limitArg(limit))
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, w.args...)
	metrics.ObserveNetworkRequest("postgres", "views_recent", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ViewEvent
	for rows.Next() {
		e := domain.ViewEvent{Subject: s}
		if err := rows.Scan(&e.ID, &e.FactID, &e.ViewedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CategoryEngagement агрегирует просмотры зрителя в категории.
func (p *Postgres) CategoryEngagement(ctx context.Context, s domain.Subject, categoryID string) (domain.CategoryEngagement, bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	w := &where{}
	w.add(subjectCond("v.", s), s.ID)
	w.add("f.category_id = ?::uuid", categoryID)
	var (
		e    domain.CategoryEngagement
		last *time.Time
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COUNT(*), MAX(v.viewed_at) FROM view_events v JOIN facts f ON f.id = v.fact_id`+w.String(), w.args...).Scan(&e.ViewCount, &last)
	metrics.ObserveNetworkRequest("postgres", "views_engagement", "view_events", start, err)
	if err != nil {
		return domain.CategoryEngagement{}, false, notFound(err, "категория "+categoryID)
	}
	if last != nil {
		e.LastViewedAt = *last
	}
	return e, e.ViewCount > 0, nil
}

// FactViewCounts считает просмотры указанных фактов.
func (p *Postgres) FactViewCounts(ctx context.Context, factIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(factIDs))
	if len(factIDs) == 0 {
		return out, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT fact_id::text, COUNT(*) FROM view_events WHERE fact_id = ANY($1::uuid[]) GROUP BY fact_id
`, factIDs)
	metrics.ObserveNetworkRequest("postgres", "views_count_by_fact", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}

// TopCategoriesByViews возвращает категории с наибольшим числом просмотров.
func (p *Postgres) TopCategoriesByViews(ctx context.Context, limit int) ([]domain.CategoryViews, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT c.id::text, c.name, c.description, c.image, COUNT(*) AS total
FROM view_events v
JOIN facts f ON f.id = v.fact_id
JOIN categories c ON c.id = f.category_id
GROUP BY c.id
ORDER BY total DESC, c.id
LIMIT $1
`, limitArg(limit))
	metrics.ObserveNetworkRequest("postgres", "stats_top_categories", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.CategoryViews{}
	for rows.Next() {
		var cv domain.CategoryViews
		if err := rows.Scan(&cv.CategoryID, &cv.Name, &cv.Description, &cv.Image, &cv.TotalViews); err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

// TopFactsByViews возвращает самые просматриваемые факты.
func (p *Postgres) TopFactsByViews(ctx context.Context, limit int) ([]domain.FactViews, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT f.id::text, f.title, f.description, c.name, COUNT(*) AS total
FROM view_events v
JOIN facts f ON f.id = v.fact_id
JOIN categories c ON c.id = f.category_id
GROUP BY f.id, c.name
ORDER BY total DESC, f.id
LIMIT $1
`, limitArg(limit))
	metrics.ObserveNetworkRequest("postgres", "stats_top_facts", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.FactViews{}
	for rows.Next() {
		var fv domain.FactViews
		if err := rows.Scan(&fv.FactID, &fv.Title, &fv.Description, &fv.CategoryName, &fv.TotalViews); err != nil {
			return nil, err
		}
		out = append(out, fv)
	}
	return out, rows.Err()
}

// SubjectViewActivity возвращает самых активных зрителей.
func (p *Postgres) SubjectViewActivity(ctx context.Context, limit int) ([]domain.SubjectActivity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+subjectKeyExpr+` AS subject, COUNT(*) AS total, COUNT(DISTINCT v.fact_id), MAX(v.viewed_at)
FROM view_events v
GROUP BY subject
ORDER BY total DESC, subject
LIMIT $1
`, limitArg(limit))
	metrics.ObserveNetworkRequest("postgres", "stats_subject_activity", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.SubjectActivity{}
	for rows.Next() {
		var a domain.SubjectActivity
		if err := rows.Scan(&a.SubjectKey, &a.TotalViews, &a.UniqueFactsViewed, &a.LastViewed); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DailyActivity группирует просмотры по дням (UTC) начиная с since.
func (p *Postgres) DailyActivity(ctx context.Context, since time.Time) ([]domain.DailyActivity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT to_char(v.viewed_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
       COUNT(*), COUNT(DISTINCT `+subjectKeyExpr+`), COUNT(DISTINCT v.fact_id)
FROM view_events v
WHERE v.viewed_at >= $1
GROUP BY day
ORDER BY day
`, since)
	metrics.ObserveNetworkRequest("postgres", "stats_daily", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.DailyActivity{}
	for rows.Next() {
		var d domain.DailyActivity
		if err := rows.Scan(&d.Date, &d.TotalViews, &d.UniqueViewers, &d.UniqueFacts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// HourlyActivity группирует просмотры по часу суток (UTC).
func (p *Postgres) HourlyActivity(ctx context.Context) ([]domain.HourlyActivity, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT EXTRACT(HOUR FROM v.viewed_at AT TIME ZONE 'UTC')::int AS hour,
       COUNT(*), COUNT(DISTINCT `+subjectKeyExpr+`)
FROM view_events v
GROUP BY hour
ORDER BY hour
`)
	metrics.ObserveNetworkRequest("postgres", "stats_hourly", "view_events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.HourlyActivity{}
	for rows.Next() {
		var h domain.HourlyActivity
		if err := rows.Scan(&h.Hour, &h.TotalViews, &h.UniqueViewers); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
