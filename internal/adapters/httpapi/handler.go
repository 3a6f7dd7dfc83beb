// Package httpapi связывает HTTP-маршруты с сервисами фактов.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	chi "github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"fact-feed/internal/domain"
	httpinfra "fact-feed/internal/infra/http"
	"fact-feed/internal/usecase/categories"
	"fact-feed/internal/usecase/facts"
	"fact-feed/internal/usecase/feed"
	"fact-feed/internal/usecase/recount"
	"fact-feed/internal/usecase/stats"
	"fact-feed/internal/usecase/views"
)

// Services: сервисы, которые обслуживает API. Recount может быть nil.
type Services struct {
	Feed       *feed.Service
	Facts      *facts.Service
	Categories *categories.Service
	Views      *views.Service
	Stats      *stats.Service
	Recount    *recount.Service
}

// Handler обрабатывает запросы API.
type Handler struct {
	svc Services
	log zerolog.Logger
}

// New создаёт обработчик.
func New(svc Services, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: logger.With().Str("component", "httpapi").Logger()}
}

// Routes регистрирует маршруты. jwtSecret проверяет Bearer токены.
func (h *Handler) Routes(r chi.Router, jwtSecret string) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(httpinfra.IdentityMiddleware(jwtSecret))

		api.Get("/facts/latest", h.latest)
		api.Get("/facts/feed", h.feed)
		api.Get("/facts/category/{categoryID}/feed", h.categoryFeed)
		api.Post("/facts/{id}/view", h.recordView)
		api.Get("/facts/count", h.countFacts)
		api.Get("/facts/{id}", h.getFact)
		api.Get("/categories", h.listCategories)
		api.Get("/categories/{id}", h.getCategory)

		api.Group(func(user chi.Router) {
			user.Use(requireUser)
			user.Put("/me/interests", h.setInterests)

			user.Get("/facts", h.listFacts)
			user.Post("/facts", h.createFact)
			user.Patch("/facts/{id}", h.updateFact)
			user.Delete("/facts/{id}", h.deleteFact)
			user.Post("/categories", h.createCategory)
			user.Patch("/categories/{id}", h.updateCategory)
			user.Delete("/categories/{id}", h.deleteCategory)
			user.Get("/admin/stats", h.dashboard)
			user.Post("/admin/recount", h.requestRecount)
		})
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpinfra.IdentityFrom(r.Context()).UserID == "" {
			httpinfra.WriteError(w, http.StatusUnauthorized, "требуется авторизация")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpinfra.StatusFor(err) == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Str("request_id", httpinfra.RequestID(r)).Msg("httpapi: ошибка обработки запроса")
	}
	httpinfra.WriteDomainError(w, err)
}

func subjectFrom(r *http.Request) (domain.Subject, error) {
	id := httpinfra.IdentityFrom(r.Context())
	return domain.NewSubject(id.UserID, id.AnonID)
}

func decode(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: некорректное тело запроса", domain.ErrValidation)
	}
	return nil
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: параметр %s должен быть числом", domain.ErrValidation, name)
	}
	return n, nil
}

func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: параметр %s должен быть датой", domain.ErrValidation, name)
}

func (h *Handler) latest(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.svc.Feed.Latest(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) feed(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.svc.Feed.Feed(r.Context(), subject, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) categoryFeed(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.svc.Feed.CategoryFeed(r.Context(), subject, chi.URLParam(r, "categoryID"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, page)
}

func (h *Handler) recordView(w http.ResponseWriter, r *http.Request) {
	subject, err := subjectFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.svc.Views.RecordView(r.Context(), chi.URLParam(r, "id"), subject); err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) getFact(w http.ResponseWriter, r *http.Request) {
	fact, err := h.svc.Facts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, fact)
}

func (h *Handler) countFacts(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.Facts.Count(r.Context(), strings.TrimSpace(r.URL.Query().Get("categoryId")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *Handler) listFacts(w http.ResponseWriter, r *http.Request) {
	q, err := factQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := h.svc.Facts.List(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, page)
}

func factQuery(r *http.Request) (domain.FactQuery, error) {
	var q domain.FactQuery
	var err error
	if q.Page, err = intParam(r, "page"); err != nil {
		return q, err
	}
	if q.Limit, err = intParam(r, "limit"); err != nil {
		return q, err
	}
	if q.From, err = timeParam(r, "from"); err != nil {
		return q, err
	}
	if q.To, err = timeParam(r, "to"); err != nil {
		return q, err
	}
	values := r.URL.Query()
	q.Search = values.Get("search")
	q.CategoryID = values.Get("categoryId")
	q.SortBy = values.Get("sortBy")
	switch strings.ToLower(values.Get("sortOrder")) {
	case "", "desc":
	case "asc":
		q.SortAsc = true
	default:
		return q, fmt.Errorf("%w: sortOrder принимает asc или desc", domain.ErrValidation)
	}
	return q, nil
}

func (h *Handler) createFact(w http.ResponseWriter, r *http.Request) {
	var in domain.FactInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	fact, err := h.svc.Facts.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, fact)
}

func (h *Handler) updateFact(w http.ResponseWriter, r *http.Request) {
	var patch domain.FactPatch
	if err := decode(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	fact, err := h.svc.Facts.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, fact)
}

func (h *Handler) deleteFact(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Facts.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	onlyActive, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	list, err := h.svc.Categories.List(r.Context(), domain.CategoryQuery{OnlyActive: onlyActive})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Categories.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var in domain.CategoryInput
	if err := decode(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Categories.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	var patch domain.CategoryPatch
	if err := decode(r, &patch); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Categories.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Categories.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type interestsRequest struct {
	CategoryIDs []string `json:"categoryIds"`
}

func (h *Handler) setInterests(w http.ResponseWriter, r *http.Request) {
	var req interestsRequest
	if err := decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	userID := httpinfra.IdentityFrom(r.Context()).UserID
	if err := h.svc.Categories.SetInterests(r.Context(), userID, req.CategoryIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.svc.Stats.Dashboard(r.Context(), days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, d)
}

func (h *Handler) requestRecount(w http.ResponseWriter, r *http.Request) {
	if h.svc.Recount == nil {
		httpinfra.WriteError(w, http.StatusServiceUnavailable, "очередь пересчёта не настроена")
		return
	}
	job, err := h.svc.Recount.Request(r.Context(), domain.RecountCauseManual)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusAccepted, job)
}
