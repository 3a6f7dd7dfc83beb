//go:build integration

package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"fact-feed/internal/domain"
)

func startPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_USER":     "postgres",
			"POSTGRES_DB":       "facts",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(termCtx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/facts?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	applyMigrations(ctx, t, pool)
	return pool
}

func applyMigrations(ctx context.Context, t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	entries, err := filepath.Glob(filepath.Join("..", "..", "..", "migrations", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	sort.Strings(entries)
	for _, path := range entries {
		content, err := os.ReadFile(path)
		require.NoError(t, err)
		_, err = pool.Exec(ctx, string(content))
		require.NoError(t, err, "миграция %s", filepath.Base(path))
	}
}

func TestPostgresRepositoryIntegration(t *testing.T) {
	ctx := context.Background()
	pool := startPostgres(ctx, t)
	p := NewPostgres(pool)

	space, err := p.CreateCategory(ctx, domain.Category{ID: uuid.NewString(), Name: "Космос", IsActive: true})
	require.NoError(t, err)
	_, err = p.CreateCategory(ctx, domain.Category{ID: uuid.NewString(), Name: "КОСМОС"})
	require.ErrorIs(t, err, domain.ErrConflict)

	base := time.Now().UTC().Truncate(time.Second).Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		f, err := p.CreateFact(ctx, domain.Fact{
			ID:          uuid.NewString(),
			Title:       fmt.Sprintf("Факт %d", i),
			Description: "Описание 100% правды",
			CategoryID:  space.ID,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.Equal(t, "Космос", f.CategoryName)
		ids = append(ids, f.ID)
	}
	_, err = p.CreateFact(ctx, domain.Fact{ID: uuid.NewString(), Title: "x", Description: "y", CategoryID: uuid.NewString()})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = p.GetFact(ctx, "not-a-uuid")
	require.ErrorIs(t, err, domain.ErrNotFound)

	facts, total, err := p.ListFacts(ctx, domain.FactQuery{Limit: 2, Search: "100%"})
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, facts, 2)
	require.Equal(t, ids[4], facts[0].ID)

	subject, err := domain.NewSubject("", "device-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.InsertView(ctx, domain.ViewEvent{Subject: subject, FactID: ids[0]})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	inserted, err := p.InsertView(ctx, domain.ViewEvent{Subject: subject, FactID: ids[1]})
	require.NoError(t, err)
	require.True(t, inserted)

	viewed, err := p.ViewedFacts(ctx, subject)
	require.NoError(t, err)
	require.Len(t, viewed, 2)

	unseen, err := p.ListUnseen(ctx, domain.UnseenQuery{Exclude: []string{ids[0], ids[1]}, Limit: 10})
	require.NoError(t, err)
	require.Len(t, unseen, 3)
	require.Equal(t, ids[4], unseen[0].ID)

	exists, err := p.ExistsOutside(ctx, space.ID, ids)
	require.NoError(t, err)
	require.False(t, exists)

	engagement, found, err := p.CategoryEngagement(ctx, subject, space.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, engagement.ViewCount)

	n, err := p.CountFacts(ctx, space.ID)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, p.SetFactsCount(ctx, space.ID, n))

	_, err = p.DeleteCategory(ctx, space.ID)
	require.ErrorIs(t, err, domain.ErrConflict)

	title := "Новый заголовок"
	before, after, err := p.UpdateFact(ctx, ids[2], domain.FactPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, "Факт 2", before.Title)
	require.Equal(t, title, after.Title)

	deleted, err := p.DeleteFact(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, ids[0], deleted.ID)
	viewed, err = p.ViewedFacts(ctx, subject)
	require.NoError(t, err)
	require.Len(t, viewed, 2, "журнал просмотров не удаляется вместе с фактом")

	top, err := p.TopFactsByViews(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, ids[1], top[0].FactID)

	hourly, err := p.HourlyActivity(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, hourly)

	require.NoError(t, p.SetInterests(ctx, "u1", []string{space.ID}))
	user, err := p.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{space.ID}, user.Interests)
	_, err = p.GetUser(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
