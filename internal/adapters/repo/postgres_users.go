package repo

import (
	"context"
	"time"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

// GetUser возвращает пользователя с заявленными интересами.
func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	user := domain.User{ID: id}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT COALESCE(array_agg(i.category_id::text) FILTER (WHERE i.category_id IS NOT NULL), '{}')
FROM users u
LEFT JOIN user_interests i ON i.user_id = u.id
WHERE u.id = $1
GROUP BY u.id
`, id).Scan(&user.Interests)
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if err != nil {
		return domain.User{}, notFound(err, "пользователь "+id)
	}
	return user, nil
}

// SetInterests заменяет заявленные интересы пользователя, создавая его при необходимости.
func (p *Postgres) SetInterests(ctx context.Context, userID string, categoryIDs []string) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.Begin(ctx)
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "users", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	_, err = tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	metrics.ObserveNetworkRequest("postgres", "users_upsert", "users", start, err)
	if err != nil {
		return err
	}
	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM user_interests WHERE user_id = $1`, userID)
	metrics.ObserveNetworkRequest("postgres", "interests_clear", "user_interests", start, err)
	if err != nil {
		return err
	}
	if len(categoryIDs) > 0 {
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO user_interests (user_id, category_id)
SELECT $1, unnest($2::uuid[])
ON CONFLICT DO NOTHING
`, userID, categoryIDs)
		metrics.ObserveNetworkRequest("postgres", "interests_insert", "user_interests", start, err)
		if err != nil {
			return notFound(err, "категория")
		}
	}
	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "users", start, err)
	return err
}
