package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

const categoryColumns = `id::text, name, description, image, is_active, sort_order, facts_count, created_at, updated_at`

func scanCategory(row pgx.Row) (domain.Category, error) {
	var c domain.Category
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.Image, &c.IsActive, &c.SortOrder, &c.FactsCount, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// CreateCategory сохраняет категорию; занятое имя даёт ErrConflict.
func (p *Postgres) CreateCategory(ctx context.Context, c domain.Category) (domain.Category, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	created, err := scanCategory(p.pool.QueryRow(ctx, `
INSERT INTO categories (id, name, description, image, is_active, sort_order, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING `+categoryColumns, c.ID, c.Name, c.Description, c.Image, c.IsActive, c.SortOrder, c.CreatedAt))
	metrics.ObserveNetworkRequest("postgres", "categories_insert", "categories", start, err)
	if pgCode(err) == pgUniqueViolation {
		return domain.Category{}, fmt.Errorf("%w: категория с именем %q уже существует", domain.ErrConflict, c.Name)
	}
	if err != nil {
		return domain.Category{}, err
	}
	return created, nil
}

// UpdateCategory применяет patch.
func (p *Postgres) UpdateCategory(ctx context.Context, id string, patch domain.CategoryPatch) (domain.Category, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	updated, err := scanCategory(p.pool.QueryRow(ctx, `
UPDATE categories SET
    name = COALESCE($2, name),
    description = COALESCE($3, description),
    image = COALESCE($4, image),
    is_active = COALESCE($5, is_active),
    sort_order = COALESCE($6, sort_order),
    updated_at = now()
WHERE id = $1
RETURNING `+categoryColumns, id, patch.Name, patch.Description, patch.Image, patch.IsActive, patch.SortOrder))
	metrics.ObserveNetworkRequest("postgres", "categories_update", "categories", start, err)
	if pgCode(err) == pgUniqueViolation {
		return domain.Category{}, fmt.Errorf("%w: категория с именем %q уже существует", domain.ErrConflict, deref(patch.Name))
	}
	if err != nil {
		return domain.Category{}, notFound(err, "категория "+id)
	}
	return updated, nil
}

// DeleteCategory удаляет пустую категорию; категория с фактами даёт ErrConflict.
func (p *Postgres) DeleteCategory(ctx context.Context, id string) (domain.Category, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	deleted, err := scanCategory(p.pool.QueryRow(ctx, `DELETE FROM categories WHERE id = $1 RETURNING `+categoryColumns, id))
	metrics.ObserveNetworkRequest("postgres", "categories_delete", "categories", start, err)
	if pgCode(err) == pgForeignKeyViolation {
		return domain.Category{}, fmt.Errorf("%w: в категории %s остались факты", domain.ErrConflict, id)
	}
	if err != nil {
		return domain.Category{}, notFound(err, "категория "+id)
	}
	return deleted, nil
}

// GetCategory возвращает категорию.
func (p *Postgres) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	c, err := scanCategory(p.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id))
	metrics.ObserveNetworkRequest("postgres", "categories_get", "categories", start, err)
	if err != nil {
		return domain.Category{}, notFound(err, "категория "+id)
	}
	return c, nil
}

// ListCategories возвращает категории в порядке sort_order.
func (p *Postgres) ListCategories(ctx context.Context, q domain.CategoryQuery) ([]domain.Category, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `SELECT ` + categoryColumns + ` FROM categories`
	if q.OnlyActive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY sort_order, name`
	start := time.Now()
	rows, err := p.pool.Query(ctx, query)
	metrics.ObserveNetworkRequest("postgres", "categories_list", "categories", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MissingCategories возвращает идентификаторы, которых нет в таблице.
func (p *Postgres) MissingCategories(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT want.id FROM unnest($1::text[]) AS want(id)
LEFT JOIN categories c ON c.id::text = want.id
WHERE c.id IS NULL
`, ids)
	metrics.ObserveNetworkRequest("postgres", "categories_missing", "categories", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var missing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

// SetFactsCount записывает производный счётчик фактов.
func (p *Postgres) SetFactsCount(ctx context.Context, id string, count int) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE categories SET facts_count = $2 WHERE id = $1`, id, count)
	metrics.ObserveNetworkRequest("postgres", "categories_set_count", "categories", start, err)
	if err != nil {
		return notFound(err, "категория "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: категория %s", domain.ErrNotFound, id)
	}
	return nil
}

// CountCategories считает категории.
func (p *Postgres) CountCategories(ctx context.Context, onlyActive bool) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `SELECT COUNT(*) FROM categories`
	if onlyActive {
		query += ` WHERE is_active`
	}
	var n int
	start := time.Now()
	err := p.pool.QueryRow(ctx, query).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "categories_count", "categories", start, err)
	return n, err
}
