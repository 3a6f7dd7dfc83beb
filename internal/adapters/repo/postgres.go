package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"fact-feed/internal/domain"
)

// Коды ошибок Postgres, которые сопоставляются с доменными видами.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgInvalidText         = "22P02"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.FactRepo     = (*Postgres)(nil)
	_ domain.CategoryRepo = (*Postgres)(nil)
	_ domain.ViewLedger   = (*Postgres)(nil)
	_ domain.Aggregator   = (*Postgres)(nil)
	_ domain.UserRepo     = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// notFound сопоставляет отсутствие строки и некорректный uuid с ErrNotFound.
func notFound(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) || pgCode(err) == pgInvalidText {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return err
}

// where собирает условия запроса; ? в условии заменяется номером аргумента.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// subjectCond возвращает условие по зрителю для журнала просмотров.
func subjectCond(alias string, s domain.Subject) string {
	if s.Authenticated() {
		return alias + "user_id = ?"
	}
	return alias + "anon_id = ?"
}

// limitArg превращает неположительный лимит в NULL, то есть «без ограничения».
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
