package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fact-feed/internal/domain"
)

// Memory хранит факты, категории и журнал просмотров в памяти процесса.
// Используется в режиме STORE_DRIVER=memory и в тестах.
type Memory struct {
	mu         sync.RWMutex
	facts      map[string]domain.Fact
	categories map[string]domain.Category
	users      map[string]domain.User
	views      []domain.ViewEvent
	viewIndex  map[string]struct{}
	nextViewID int64
	now        func() time.Time
}

var (
	_ domain.FactRepo     = (*Memory)(nil)
	_ domain.CategoryRepo = (*Memory)(nil)
	_ domain.ViewLedger   = (*Memory)(nil)
	_ domain.Aggregator   = (*Memory)(nil)
	_ domain.UserRepo     = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		facts:      make(map[string]domain.Fact),
		categories: make(map[string]domain.Category),
		users:      make(map[string]domain.User),
		viewIndex:  make(map[string]struct{}),
		now:        time.Now,
	}
}

// WithClock подменяет источник времени.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
	return m
}

// SetInterests заменяет интересы пользователя, создавая его при необходимости.
func (m *Memory) SetInterests(_ context.Context, userID string, categoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = domain.User{ID: userID, Interests: append([]string{}, categoryIDs...)}
	return nil
}

func (m *Memory) withCategoryName(f domain.Fact) domain.Fact {
	f.CategoryName = m.categories[f.CategoryID].Name
	return f
}

// CreateFact сохраняет новый факт в существующей категории.
func (m *Memory) CreateFact(_ context.Context, fact domain.Fact) (domain.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[fact.CategoryID]; !ok {
		return domain.Fact{}, fmt.Errorf("%w: категория %s", domain.ErrNotFound, fact.CategoryID)
	}
	if _, ok := m.facts[fact.ID]; ok {
		return domain.Fact{}, fmt.Errorf("%w: факт %s уже существует", domain.ErrConflict, fact.ID)
	}
	now := m.now().UTC()
	if fact.CreatedAt.IsZero() {
		fact.CreatedAt = now
	}
	if fact.UpdatedAt.IsZero() {
		fact.UpdatedAt = fact.CreatedAt
	}
	fact.CategoryName = ""
	m.facts[fact.ID] = fact
	return m.withCategoryName(fact), nil
}

// UpdateFact применяет патч и возвращает факт до и после изменения.
func (m *Memory) UpdateFact(_ context.Context, id string, patch domain.FactPatch) (domain.Fact, domain.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before, ok := m.facts[id]
	if !ok {
		return domain.Fact{}, domain.Fact{}, fmt.Errorf("%w: факт %s", domain.ErrNotFound, id)
	}
	after := before
	if patch.Title != nil {
		after.Title = *patch.Title
	}
	if patch.Description != nil {
		after.Description = *patch.Description
	}
	if patch.Image != nil {
		after.Image = *patch.Image
	}
	if patch.CategoryID != nil {
		if _, ok := m.categories[*patch.CategoryID]; !ok {
			return domain.Fact{}, domain.Fact{}, fmt.Errorf("%w: категория %s", domain.ErrNotFound, *patch.CategoryID)
		}
		after.CategoryID = *patch.CategoryID
	}
	after.UpdatedAt = m.now().UTC()
	m.facts[id] = after
	return m.withCategoryName(before), m.withCategoryName(after), nil
}

// DeleteFact удаляет факт и возвращает его последнее состояние.
func (m *Memory) DeleteFact(_ context.Context, id string) (domain.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok {
		return domain.Fact{}, fmt.Errorf("%w: факт %s", domain.ErrNotFound, id)
	}
	delete(m.facts, id)
	return m.withCategoryName(f), nil
}

// GetFact возвращает факт по идентификатору.
func (m *Memory) GetFact(_ context.Context, id string) (domain.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.facts[id]
	if !ok {
		return domain.Fact{}, fmt.Errorf("%w: факт %s", domain.ErrNotFound, id)
	}
	return m.withCategoryName(f), nil
}

// GetFactsByIDs возвращает найденные факты, неизвестные id пропускаются.
func (m *Memory) GetFactsByIDs(_ context.Context, ids []string) ([]domain.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Fact, 0, len(ids))
	for _, id := range ids {
		if f, ok := m.facts[id]; ok {
			out = append(out, m.withCategoryName(f))
		}
	}
	return out, nil
}

// ListFacts возвращает страницу фактов по фильтрам и общее число совпадений.
func (m *Memory) ListFacts(_ context.Context, q domain.FactQuery) ([]domain.Fact, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var matched []domain.Fact
	for _, f := range m.facts {
		if q.CategoryID != "" && f.CategoryID != q.CategoryID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(f.Title), search) &&
			!strings.Contains(strings.ToLower(f.Description), search) {
			continue
		}
		if q.From != nil && f.CreatedAt.Before(*q.From) {
			continue
		}
		if q.To != nil && f.CreatedAt.After(*q.To) {
			continue
		}
		matched = append(matched, m.withCategoryName(f))
	}
	sortFacts(matched, q.SortBy, q.SortAsc)
	total := len(matched)
	offset := q.Offset()
	if offset >= total {
		return []domain.Fact{}, total, nil
	}
	end := total
	if q.Limit > 0 && offset+q.Limit < end {
		end = offset + q.Limit
	}
	return matched[offset:end], total, nil
}

func sortFacts(facts []domain.Fact, by string, asc bool) {
	less := func(a, b domain.Fact) int {
		switch by {
		case domain.SortByTitle:
			return strings.Compare(a.Title, b.Title)
		case domain.SortByUpdatedAt:
			return a.UpdatedAt.Compare(b.UpdatedAt)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(facts, func(i, j int) bool {
		c := less(facts[i], facts[j])
		if c == 0 {
			return facts[i].ID < facts[j].ID
		}
		if asc {
			return c < 0
		}
		return c > 0
	})
}

// newestFirst упорядочивает факты от новых к старым, при равенстве по id.
func newestFirst(facts []domain.Fact) {
	sortFacts(facts, domain.SortByCreatedAt, false)
}

// LatestFacts возвращает самые новые факты категории или всего каталога.
func (m *Memory) LatestFacts(ctx context.Context, categoryID string, limit int) ([]domain.Fact, error) {
	return m.ListUnseen(ctx, domain.UnseenQuery{CategoryID: categoryID, Limit: limit})
}

// ListUnseen возвращает факты, не входящие в исключённые id.
func (m *Memory) ListUnseen(_ context.Context, q domain.UnseenQuery) ([]domain.Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exclude := toSet(q.Exclude)
	var out []domain.Fact
	for _, f := range m.facts {
		if q.CategoryID != "" && f.CategoryID != q.CategoryID {
			continue
		}
		if _, ok := exclude[f.ID]; ok {
			continue
		}
		out = append(out, m.withCategoryName(f))
	}
	newestFirst(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ExistsOutside проверяет, есть ли факт вне списка исключений.
func (m *Memory) ExistsOutside(_ context.Context, categoryID string, exclude []string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	skip := toSet(exclude)
	for _, f := range m.facts {
		if categoryID != "" && f.CategoryID != categoryID {
			continue
		}
		if _, ok := skip[f.ID]; !ok {
			return true, nil
		}
	}
	return false, nil
}

// CountFacts считает факты категории, при пустом id считает все.
func (m *Memory) CountFacts(_ context.Context, categoryID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countFactsLocked(categoryID), nil
}

func (m *Memory) countFactsLocked(categoryID string) int {
	if categoryID == "" {
		return len(m.facts)
	}
	n := 0
	for _, f := range m.facts {
		if f.CategoryID == categoryID {
			n++
		}
	}
	return n
}

func (m *Memory) nameTakenLocked(name, exceptID string) bool {
	for id, c := range m.categories {
		if id != exceptID && strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// CreateCategory сохраняет категорию с уникальным без учёта регистра именем.
func (m *Memory) CreateCategory(_ context.Context, c domain.Category) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nameTakenLocked(c.Name, "") {
		return domain.Category{}, fmt.Errorf("%w: категория с именем %q уже существует", domain.ErrConflict, c.Name)
	}
	now := m.now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	c.FactsCount = 0
	m.categories[c.ID] = c
	return c, nil
}

// UpdateCategory применяет патч к категории.
func (m *Memory) UpdateCategory(_ context.Context, id string, patch domain.CategoryPatch) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return domain.Category{}, fmt.Errorf("%w: категория %s", domain.ErrNotFound, id)
	}
	if patch.Name != nil {
		if m.nameTakenLocked(*patch.Name, id) {
			return domain.Category{}, fmt.Errorf("%w: категория с именем %q уже существует", domain.ErrConflict, *patch.Name)
		}
		c.Name = *patch.Name
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Image != nil {
		c.Image = *patch.Image
	}
	if patch.IsActive != nil {
		c.IsActive = *patch.IsActive
	}
	if patch.SortOrder != nil {
		c.SortOrder = *patch.SortOrder
	}
	c.UpdatedAt = m.now().UTC()
	m.categories[id] = c
	return c, nil
}

// DeleteCategory удаляет категорию без фактов.
func (m *Memory) DeleteCategory(_ context.Context, id string) (domain.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return domain.Category{}, fmt.Errorf("%w: категория %s", domain.ErrNotFound, id)
	}
	if n := m.countFactsLocked(id); n > 0 {
		return domain.Category{}, fmt.Errorf("%w: в категории %d фактов", domain.ErrConflict, n)
	}
	delete(m.categories, id)
	return c, nil
}

// GetCategory возвращает категорию по идентификатору.
func (m *Memory) GetCategory(_ context.Context, id string) (domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return domain.Category{}, fmt.Errorf("%w: категория %s", domain.ErrNotFound, id)
	}
	return c, nil
}

// ListCategories возвращает категории в порядке sortOrder.
func (m *Memory) ListCategories(_ context.Context, q domain.CategoryQuery) ([]domain.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Category, 0, len(m.categories))
	for _, c := range m.categories {
		if q.OnlyActive && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// MissingCategories возвращает идентификаторы, для которых нет категорий.
func (m *Memory) MissingCategories(_ context.Context, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var missing []string
	for _, id := range ids {
		if _, ok := m.categories[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// SetFactsCount записывает сохранённый счётчик фактов категории.
func (m *Memory) SetFactsCount(_ context.Context, id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return fmt.Errorf("%w: категория %s", domain.ErrNotFound, id)
	}
	c.FactsCount = count
	m.categories[id] = c
	return nil
}

// CountCategories считает категории, при onlyActive только активные.
func (m *Memory) CountCategories(_ context.Context, onlyActive bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.categories {
		if !onlyActive || c.IsActive {
			n++
		}
	}
	return n, nil
}

func viewKey(s domain.Subject, factID string) string {
	return s.Key() + "|" + factID
}

// InsertView добавляет просмотр и сообщает, была ли создана новая запись.
func (m *Memory) InsertView(_ context.Context, e domain.ViewEvent) (bool, error) {
	if e.Subject.IsZero() {
		return false, fmt.Errorf("%w: зритель не задан", domain.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := viewKey(e.Subject, e.FactID)
	if _, ok := m.viewIndex[key]; ok {
		return false, nil
	}
	m.nextViewID++
	e.ID = m.nextViewID
	if e.ViewedAt.IsZero() {
		e.ViewedAt = m.now().UTC()
	}
	m.viewIndex[key] = struct{}{}
	m.views = append(m.views, e)
	return true, nil
}

// ViewedFacts возвращает все просмотренные зрителем факты.
func (m *Memory) ViewedFacts(_ context.Context, s domain.Subject) ([]domain.ViewedFact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ViewedFact
	for _, v := range m.views {
		if v.Subject == s {
			out = append(out, domain.ViewedFact{FactID: v.FactID, ViewedAt: v.ViewedAt})
		}
	}
	return out, nil
}

// RecentViews возвращает последние просмотры зрителя, новые первыми.
func (m *Memory) RecentViews(_ context.Context, s domain.Subject, limit int) ([]domain.ViewEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ViewEvent
	for _, v := range m.views {
		if v.Subject == s {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ViewedAt.After(out[j].ViewedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CategoryEngagement возвращает вовлечённость зрителя в категорию.
func (m *Memory) CategoryEngagement(_ context.Context, s domain.Subject, categoryID string) (domain.CategoryEngagement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var e domain.CategoryEngagement
	for _, v := range m.views {
		if v.Subject != s {
			continue
		}
		f, ok := m.facts[v.FactID]
		if !ok || f.CategoryID != categoryID {
			continue
		}
		e.ViewCount++
		if v.ViewedAt.After(e.LastViewedAt) {
			e.LastViewedAt = v.ViewedAt
		}
	}
	return e, e.ViewCount > 0, nil
}

// FactViewCounts возвращает число просмотров по каждому факту.
func (m *Memory) FactViewCounts(_ context.Context, factIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := toSet(factIDs)
	out := make(map[string]int, len(factIDs))
	for _, v := range m.views {
		if _, ok := want[v.FactID]; ok {
			out[v.FactID]++
		}
	}
	return out, nil
}

// TopCategoriesByViews возвращает категории с наибольшим числом просмотров.
func (m *Memory) TopCategoriesByViews(_ context.Context, limit int) ([]domain.CategoryViews, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, v := range m.views {
		if f, ok := m.facts[v.FactID]; ok {
			counts[f.CategoryID]++
		}
	}
	out := make([]domain.CategoryViews, 0, len(counts))
	for id, n := range counts {
		c, ok := m.categories[id]
		if !ok {
			continue
		}
		out = append(out, domain.CategoryViews{CategoryID: id, Name: c.Name, Description: c.Description, Image: c.Image, TotalViews: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalViews != out[j].TotalViews {
			return out[i].TotalViews > out[j].TotalViews
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return truncate(out, limit), nil
}

// TopFactsByViews возвращает самые просматриваемые факты.
func (m *Memory) TopFactsByViews(_ context.Context, limit int) ([]domain.FactViews, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	for _, v := range m.views {
		if _, ok := m.facts[v.FactID]; ok {
			counts[v.FactID]++
		}
	}
	out := make([]domain.FactViews, 0, len(counts))
	for id, n := range counts {
		f := m.withCategoryName(m.facts[id])
		out = append(out, domain.FactViews{FactID: id, Title: f.Title, Description: f.Description, CategoryName: f.CategoryName, TotalViews: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalViews != out[j].TotalViews {
			return out[i].TotalViews > out[j].TotalViews
		}
		return out[i].FactID < out[j].FactID
	})
	return truncate(out, limit), nil
}

// SubjectViewActivity возвращает самых активных зрителей.
func (m *Memory) SubjectViewActivity(_ context.Context, limit int) ([]domain.SubjectActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byKey := make(map[string]*domain.SubjectActivity)
	for _, v := range m.views {
		key := v.Subject.Key()
		a, ok := byKey[key]
		if !ok {
			a = &domain.SubjectActivity{SubjectKey: key}
			byKey[key] = a
		}
		a.TotalViews++
		a.UniqueFactsViewed++
		if v.ViewedAt.After(a.LastViewed) {
			a.LastViewed = v.ViewedAt
		}
	}
	out := make([]domain.SubjectActivity, 0, len(byKey))
	for _, a := range byKey {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalViews != out[j].TotalViews {
			return out[i].TotalViews > out[j].TotalViews
		}
		return out[i].SubjectKey < out[j].SubjectKey
	})
	return truncate(out, limit), nil
}

// DailyActivity группирует просмотры по дням UTC начиная с since.
func (m *Memory) DailyActivity(_ context.Context, since time.Time) ([]domain.DailyActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type bucket struct {
		total   int
		viewers map[string]struct{}
		facts   map[string]struct{}
	}
	buckets := make(map[string]*bucket)
	for _, v := range m.views {
		if v.ViewedAt.Before(since) {
			continue
		}
		day := v.ViewedAt.UTC().Format(time.DateOnly)
		b, ok := buckets[day]
		if !ok {
			b = &bucket{viewers: map[string]struct{}{}, facts: map[string]struct{}{}}
			buckets[day] = b
		}
		b.total++
		b.viewers[v.Subject.Key()] = struct{}{}
		b.facts[v.FactID] = struct{}{}
	}
	out := make([]domain.DailyActivity, 0, len(buckets))
	for day, b := range buckets {
		out = append(out, domain.DailyActivity{Date: day, TotalViews: b.total, UniqueViewers: len(b.viewers), UniqueFacts: len(b.facts)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// HourlyActivity группирует просмотры по часам суток UTC.
func (m *Memory) HourlyActivity(_ context.Context) ([]domain.HourlyActivity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var totals [24]int
	var viewers [24]map[string]struct{}
	for _, v := range m.views {
		h := v.ViewedAt.UTC().Hour()
		totals[h]++
		if viewers[h] == nil {
			viewers[h] = make(map[string]struct{})
		}
		viewers[h][v.Subject.Key()] = struct{}{}
	}
	var out []domain.HourlyActivity
	for h := 0; h < 24; h++ {
		if totals[h] == 0 {
			continue
		}
		out = append(out, domain.HourlyActivity{Hour: h, TotalViews: totals[h], UniqueViewers: len(viewers[h])})
	}
	return out, nil
}

// GetUser возвращает пользователя с заявленными интересами.
func (m *Memory) GetUser(_ context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: пользователь %s", domain.ErrNotFound, id)
	}
	u.Interests = append([]string{}, u.Interests...)
	return u, nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
