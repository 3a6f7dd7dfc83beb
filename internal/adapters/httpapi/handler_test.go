package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	chi "github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"fact-feed/internal/adapters/ranker"
	"fact-feed/internal/adapters/repo"
	"fact-feed/internal/domain"
	"fact-feed/internal/infra/cache"
	httpinfra "fact-feed/internal/infra/http"
	"fact-feed/internal/infra/queue"
	"fact-feed/internal/usecase/categories"
	"fact-feed/internal/usecase/facts"
	"fact-feed/internal/usecase/feed"
	"fact-feed/internal/usecase/invalidation"
	"fact-feed/internal/usecase/recount"
	"fact-feed/internal/usecase/stats"
	"fact-feed/internal/usecase/views"
)

const secret = "test-secret"

type env struct {
	router http.Handler
	store  *repo.Memory
	token  string
}

func newEnv(t *testing.T) env {
	t.Helper()
	log := zerolog.Nop()
	store := repo.NewMemory()
	c := cache.NewMemory()
	inv := invalidation.NewCoordinator(c, log)
	factSvc := facts.NewService(store, store, store, c, time.Hour, inv, log)
	h := New(Services{
		Feed:       feed.NewService(store, store, store, store, c, ranker.New(1, time.UTC), feed.Options{DefaultLimit: 10, MaxLimit: 50, TTL: time.Hour}, log),
		Facts:      factSvc,
		Categories: categories.NewService(store, store, c, time.Hour, inv, log),
		Views:      views.NewService(store, store, inv, log),
		Stats:      stats.NewService(store, store, store),
		Recount:    recount.NewService(queue.NewMemoryRecountQueue(4), factSvc, log),
	}, log)
	r := chi.NewRouter()
	h.Routes(r, secret)
	token, err := httpinfra.SignToken("admin", []byte(secret), time.Hour)
	if err != nil {
		t.Fatalf("подпись токена: %v", err)
	}
	return env{router: r, store: store, token: token}
}

func (e env) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e env) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.token}
}

func TestAdminFlow(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "/api/v1/categories", `{"name":"Космос","description":"Про звёзды","image":"space.png"}`, e.auth())
	if rec.Code != http.StatusCreated {
		t.Fatalf("создание категории: статус %d, тело %s", rec.Code, rec.Body)
	}
	var cat domain.Category
	if err := json.Unmarshal(rec.Body.Bytes(), &cat); err != nil {
		t.Fatalf("разбор ответа: %v", err)
	}

	rec = e.do(http.MethodPost, "/api/v1/categories", `{"name":"космос","description":"d","image":"i"}`, e.auth())
	if rec.Code != http.StatusConflict {
		t.Fatalf("дубликат категории: ожидали 409, получили %d", rec.Code)
	}

	rec = e.do(http.MethodPost, "/api/v1/facts", `{"title":"Марс","description":"Красная планета","categoryId":"`+cat.ID+`"}`, e.auth())
	if rec.Code != http.StatusCreated {
		t.Fatalf("создание факта: статус %d, тело %s", rec.Code, rec.Body)
	}

	rec = e.do(http.MethodGet, "/api/v1/facts?search="+url.QueryEscape("марс"), "", e.auth())
	if rec.Code != http.StatusOK {
		t.Fatalf("список фактов: статус %d", rec.Code)
	}
	var page domain.FactPage
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || page.Facts[0].CategoryName != "Космос" {
		t.Fatalf("неожиданный список: %+v", page)
	}

	rec = e.do(http.MethodDelete, "/api/v1/categories/"+cat.ID, "", e.auth())
	if rec.Code != http.StatusConflict {
		t.Fatalf("удаление непустой категории: ожидали 409, получили %d", rec.Code)
	}

	rec = e.do(http.MethodPost, "/api/v1/admin/recount", "", e.auth())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("пересчёт: ожидали 202, получили %d", rec.Code)
	}
	rec = e.do(http.MethodGet, "/api/v1/admin/stats", "", e.auth())
	if rec.Code != http.StatusOK {
		t.Fatalf("статистика: ожидали 200, получили %d", rec.Code)
	}
}

func TestWriteRoutesRequireUser(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "/api/v1/facts", `{}`, map[string]string{httpinfra.AnonHeader: "a"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401, получили %d", rec.Code)
	}
	rec = e.do(http.MethodGet, "/api/v1/admin/stats", "", map[string]string{"Authorization": "Bearer broken"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ожидали 401 для битого токена, получили %d", rec.Code)
	}
}

func seedFacts(t *testing.T, store *repo.Memory, n int) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.CreateCategory(ctx, domain.Category{ID: "c", Name: "Наука", IsActive: true}); err != nil {
		t.Fatalf("категория: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		if _, err := store.CreateFact(ctx, domain.Fact{ID: id, Title: id, CategoryID: "c", CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("факт: %v", err)
		}
	}
}

func TestFeedAndView(t *testing.T) {
	e := newEnv(t)
	seedFacts(t, e.store, 3)
	anon := map[string]string{httpinfra.AnonHeader: "device-1"}

	rec := e.do(http.MethodPost, "/api/v1/facts/a/view", "", anon)
	if rec.Code != http.StatusOK {
		t.Fatalf("просмотр: статус %d, тело %s", rec.Code, rec.Body)
	}
	rec = e.do(http.MethodPost, "/api/v1/facts/a/view", "", anon)
	if rec.Code != http.StatusOK {
		t.Fatalf("повторный просмотр должен быть успешным: %d", rec.Code)
	}

	rec = e.do(http.MethodGet, "/api/v1/facts/feed?limit=2", "", anon)
	if rec.Code != http.StatusOK {
		t.Fatalf("лента: статус %d, тело %s", rec.Code, rec.Body)
	}
	var page domain.FeedPage
	_ = json.Unmarshal(rec.Body.Bytes(), &page)
	if len(page.Facts) != 2 {
		t.Fatalf("ожидали 2 факта, получили %d", len(page.Facts))
	}
	for _, f := range page.Facts {
		if f.ID == "a" {
			t.Fatalf("просмотренный факт попал в ленту")
		}
	}
	if page.HasMore {
		t.Fatalf("hasMore должен быть false")
	}
}

func TestFeedStatuses(t *testing.T) {
	e := newEnv(t)
	seedFacts(t, e.store, 2)
	both := map[string]string{httpinfra.AnonHeader: "device-1", "Authorization": "Bearer " + e.token}
	cases := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{name: "без зрителя", method: http.MethodGet, path: "/api/v1/facts/feed", want: http.StatusBadRequest},
		{name: "оба идентификатора", method: http.MethodGet, path: "/api/v1/facts/feed", headers: both, want: http.StatusBadRequest},
		{name: "битый limit", method: http.MethodGet, path: "/api/v1/facts/feed?limit=x", headers: map[string]string{httpinfra.AnonHeader: "a"}, want: http.StatusBadRequest},
		{name: "неизвестная категория", method: http.MethodGet, path: "/api/v1/facts/category/zzz/feed", headers: map[string]string{httpinfra.AnonHeader: "a"}, want: http.StatusNotFound},
		{name: "неизвестный пользователь", method: http.MethodGet, path: "/api/v1/facts/feed", headers: map[string]string{"Authorization": "Bearer " + e.token}, want: http.StatusNotFound},
		{name: "просмотр неизвестного факта", method: http.MethodPost, path: "/api/v1/facts/zzz/view", headers: map[string]string{httpinfra.AnonHeader: "a"}, want: http.StatusNotFound},
		{name: "последние без зрителя", method: http.MethodGet, path: "/api/v1/facts/latest", want: http.StatusOK},
		{name: "счётчик", method: http.MethodGet, path: "/api/v1/facts/count", want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(tc.method, tc.path, "", tc.headers)
			if rec.Code != tc.want {
				t.Fatalf("ожидали %d, получили %d (%s)", tc.want, rec.Code, rec.Body)
			}
		})
	}
}

func TestSetInterests(t *testing.T) {
	e := newEnv(t)
	seedFacts(t, e.store, 2)
	rec := e.do(http.MethodPut, "/api/v1/me/interests", `{"categoryIds":["c"]}`, e.auth())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("интересы: статус %d, тело %s", rec.Code, rec.Body)
	}
	rec = e.do(http.MethodGet, "/api/v1/facts/feed", "", e.auth())
	if rec.Code != http.StatusOK {
		t.Fatalf("лента пользователя: статус %d, тело %s", rec.Code, rec.Body)
	}
	rec = e.do(http.MethodPut, "/api/v1/me/interests", `{"categoryIds":["missing"]}`, e.auth())
	if rec.Code != http.StatusNotFound {
		t.Fatalf("ожидали 404, получили %d", rec.Code)
	}
}
