package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fact-feed/internal/domain"
	"fact-feed/internal/infra/metrics"
)

const factColumns = `f.id::text, f.title, f.description, f.image, f.category_id::text, c.name, f.created_at, f.updated_at`

var factSortColumns = map[string]string{
	domain.SortByCreatedAt: "f.created_at",
	domain.SortByUpdatedAt: "f.updated_at",
	domain.SortByTitle:     "f.title",
}

func scanFact(row pgx.Row) (domain.Fact, error) {
	var f domain.Fact
	err := row.Scan(&f.ID, &f.Title, &f.Description, &f.Image, &f.CategoryID, &f.CategoryName, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

func collectFacts(rows pgx.Rows) ([]domain.Fact, error) {
	defer rows.Close()
	var facts []domain.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// CreateFact сохраняет факт; несуществующая категория даёт ErrNotFound.
func (p *Postgres) CreateFact(ctx context.Context, fact domain.Fact) (domain.Fact, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	row := p.pool.QueryRow(ctx, `
WITH f AS (
    INSERT INTO facts (id, title, description, image, category_id, created_at, updated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $6)
    RETURNING *
)
SELECT `+factColumns+` FROM f JOIN categories c ON c.id = f.category_id
`, fact.ID, fact.Title, fact.Description, fact.Image, fact.CategoryID, fact.CreatedAt)
	created, err := scanFact(row)
	metrics.ObserveNetworkRequest("postgres", "facts_insert", "facts", start, err)
	switch pgCode(err) {
	case pgForeignKeyViolation, pgInvalidText:
		return domain.Fact{}, fmt.Errorf("%w: категория %s", domain.ErrNotFound, fact.CategoryID)
	case pgUniqueViolation:
		return domain.Fact{}, fmt.Errorf("%w: факт %s уже существует", domain.ErrConflict, fact.ID)
	}
	if err != nil {
		return domain.Fact{}, err
	}
	return created, nil
}

// UpdateFact применяет patch в транзакции и возвращает факт до и после.
func (p *Postgres) UpdateFact(ctx context.Context, id string, patch domain.FactPatch) (domain.Fact, domain.Fact, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "facts", start, err)
	if err != nil {
		return domain.Fact{}, domain.Fact{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	before, err := scanFact(tx.QueryRow(ctx, `
SELECT `+factColumns+` FROM facts f JOIN categories c ON c.id = f.category_id
WHERE f.id = $1 FOR UPDATE OF f
`, id))
	metrics.ObserveNetworkRequest("postgres", "facts_lock", "facts", start, err)
	if err != nil {
		return domain.Fact{}, domain.Fact{}, notFound(err, "факт "+id)
	}

	start = time.Now()
	after, err := scanFact(tx.QueryRow(ctx, `
WITH f AS (
    UPDATE facts SET
        title = COALESCE($2, title),
        description = COALESCE($3, description),
        image = COALESCE($4, image),
        category_id = COALESCE($5::uuid, category_id),
        updated_at = now()
    WHERE id = $1
    RETURNING *
)
SELECT `+factColumns+` FROM f JOIN categories c ON c.id = f.category_id
`, id, patch.Title, patch.Description, patch.Image, patch.CategoryID))
	metrics.ObserveNetworkRequest("postgres", "facts_update", "facts", start, err)
	switch pgCode(err) {
	case pgForeignKeyViolation, pgInvalidText:
		return domain.Fact{}, domain.Fact{}, fmt.Errorf("%w: категория %s", domain.ErrNotFound, deref(patch.CategoryID))
	}
	if err != nil {
		return domain.Fact{}, domain.Fact{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "facts", start, err)
	if err != nil {
		return domain.Fact{}, domain.Fact{}, err
	}
	return before, after, nil
}

// DeleteFact удаляет факт и возвращает его последнее состояние.
func (p *Postgres) DeleteFact(ctx context.Context, id string) (domain.Fact, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	f, err := scanFact(p.pool.QueryRow(ctx, `
DELETE FROM facts f USING categories c
WHERE f.id = $1 AND c.id = f.category_id
RETURNING `+factColumns, id))
	metrics.ObserveNetworkRequest("postgres", "facts_delete", "facts", start, err)
	if err != nil {
		return domain.Fact{}, notFound(err, "факт "+id)
	}
	return f, nil
}

// GetFact возвращает факт с именем категории.
func (p *Postgres) GetFact(ctx context.Context, id string) (domain.Fact, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	f, err := scanFact(p.pool.QueryRow(ctx, `
SELECT `+factColumns+` FROM facts f JOIN categories c ON c.id = f.category_id WHERE f.id = $1
`, id))
	metrics.ObserveNetworkRequest("postgres", "facts_get", "facts", start, err)
	if err != nil {
		return domain.Fact{}, notFound(err, "факт "+id)
	}
	return f, nil
}

// GetFactsByIDs возвращает существующие факты из списка, порядок не гарантируется.
func (p *Postgres) GetFactsByIDs(ctx context.Context, ids []string) ([]domain.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+factColumns+` FROM facts f JOIN categories c ON c.id = f.category_id WHERE f.id = ANY($1::uuid[])
`, ids)
	metrics.ObserveNetworkRequest("postgres", "facts_get_many", "facts", start, err)
	if err != nil {
		return nil, err
	}
	return collectFacts(rows)
}

func factFilter(q domain.FactQuery) *where {
	w := &where{}
	if q.CategoryID != "" {
		w.add("f.category_id = ?::uuid", q.CategoryID)
	}
	if q.Search != "" {
		w.add("(f.title ILIKE ? OR f.description ILIKE ?)", likePattern(q.Search))
	}
	if q.From != nil {
		w.add("f.created_at >= ?", *q.From)
	}
	if q.To != nil {
		w.add("f.created_at <= ?", *q.To)
	}
	return w
}

// ListFacts возвращает страницу фактов и общее число подходящих.
func (p *Postgres) ListFacts(ctx context.Context, q domain.FactQuery) ([]domain.Fact, int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	w := factFilter(q)
	var total int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facts f`+w.String(), w.args...).Scan(&total)
	metrics.ObserveNetworkRequest("postgres", "facts_count_filtered", "facts", start, err)
	if err != nil {
		if pgCode(err) == pgInvalidText {
			return []domain.Fact{}, 0, nil
		}
		return nil, 0, err
	}

	column, ok := factSortColumns[q.SortBy]
	if !ok {
		column = factSortColumns[domain.SortByCreatedAt]
	}
	dir := "DESC"
	if q.SortAsc {
		dir = "ASC"
	}
	query := `SELECT ` + factColumns + ` FROM facts f JOIN categories c ON c.id = f.category_id` + w.String() +
		fmt.Sprintf(" ORDER BY %s %s, f.id %s LIMIT %s OFFSET %s", column, dir, dir, w.arg(limitArg(q.Limit)), w.arg(q.Offset()))
	start = time.Now()
	rows, err := p.pool.Query(ctx, query, w.args...)
	metrics.ObserveNetworkRequest("postgres", "facts_list", "facts", start, err)
	if err != nil {
		return nil, 0, err
	}
	facts, err := collectFacts(rows)
	if err != nil {
		return nil, 0, err
	}
	if facts == nil {
		facts = []domain.Fact{}
	}
	return facts, total, nil
}

// LatestFacts возвращает новые факты без персонализации.
func (p *Postgres) LatestFacts(ctx context.Context, categoryID string, limit int) ([]domain.Fact, error) {
	return p.ListUnseen(ctx, domain.UnseenQuery{CategoryID: categoryID, Limit: limit})
}

// ListUnseen возвращает факты вне Exclude, новые первыми.
func (p *Postgres) ListUnseen(ctx context.Context, q domain.UnseenQuery) ([]domain.Fact, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	w := &where{}
	if q.CategoryID != "" {
		w.add("f.category_id = ?::uuid", q.CategoryID)
	}
	if len(q.Exclude) > 0 {
		w.add("NOT (f.id = ANY(?::uuid[]))", q.Exclude)
	}
	query := `SELECT ` + factColumns + ` FROM facts f JOIN categories c ON c.id = f.category_id` + w.String() +
		` ORDER BY f.created_at DESC, f.id DESC LIMIT ` + w.arg(limitArg(q.Limit))
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, w.args...)
	metrics.ObserveNetworkRequest("postgres", "facts_list_unseen", "facts", start, err)
	if err != nil {
		return nil, notFound(err, "категория "+q.CategoryID)
	}
	return collectFacts(rows)
}

// ExistsOutside проверяет наличие хотя бы одного факта вне exclude.
func (p *Postgres) ExistsOutside(ctx context.Context, categoryID string, exclude []string) (bool, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	w := &where{}
	if categoryID != "" {
		w.add("f.category_id = ?::uuid", categoryID)
	}
	if len(exclude) > 0 {
		w.add("NOT (f.id = ANY(?::uuid[]))", exclude)
	}
	var exists bool
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM facts f`+w.String()+`)`, w.args...).Scan(&exists)
	metrics.ObserveNetworkRequest("postgres", "facts_exists_outside", "facts", start, err)
	if err != nil {
		return false, notFound(err, "категория "+categoryID)
	}
	return exists, nil
}

// CountFacts считает факты категории или все факты при пустой категории.
func (p *Postgres) CountFacts(ctx context.Context, categoryID string) (int, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	w := &where{}
	if categoryID != "" {
		w.add("f.category_id = ?::uuid", categoryID)
	}
	var n int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facts f`+w.String(), w.args...).Scan(&n)
	metrics.ObserveNetworkRequest("postgres", "facts_count", "facts", start, err)
	if err != nil {
		return 0, notFound(err, "категория "+categoryID)
	}
	return n, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
