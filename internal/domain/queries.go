package domain

import "time"

// Допустимые поля сортировки списка фактов.
const (
	SortByCreatedAt = "createdAt"
	SortByUpdatedAt = "updatedAt"
	SortByTitle     = "title"
)

// FactQuery описывает фильтры административного списка фактов.
type FactQuery struct {
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	Search     string     `json:"search,omitempty"`
	CategoryID string     `json:"categoryId,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	SortBy     string     `json:"sortBy"`
	SortAsc    bool       `json:"sortAsc"`
}

// Offset возвращает смещение для страницы (страницы нумеруются с 1).
func (q FactQuery) Offset() int {
	if q.Page <= 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// UnseenQuery выбирает непросмотренных кандидатов, новые первыми.
type UnseenQuery struct {
	CategoryID string
	Exclude    []string
	Limit      int
}

// FactInput: данные для создания факта.
type FactInput struct {
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"required"`
	Image       string `json:"image" validate:"omitempty,max=1024"`
	CategoryID  string `json:"categoryId" validate:"required,uuid"`
}

// FactPatch: частичное обновление факта; nil-поля не меняются.
type FactPatch struct {
	Title       *string `json:"title" validate:"omitnil,min=1,max=300"`
	Description *string `json:"description" validate:"omitnil,min=1"`
	Image       *string `json:"image" validate:"omitnil,max=1024"`
	CategoryID  *string `json:"categoryId" validate:"omitnil,uuid"`
}

// CategoryInput: данные для создания категории.
type CategoryInput struct {
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description" validate:"required"`
	Image       string `json:"image" validate:"required,max=1024"`
	IsActive    *bool  `json:"isActive"`
	SortOrder   int    `json:"sortOrder"`
}

// CategoryPatch: частичное обновление категории.
type CategoryPatch struct {
	Name        *string `json:"name" validate:"omitnil,min=1,max=120"`
	Description *string `json:"description" validate:"omitnil,min=1"`
	Image       *string `json:"image" validate:"omitnil,min=1,max=1024"`
	IsActive    *bool   `json:"isActive"`
	SortOrder   *int    `json:"sortOrder"`
}

// CategoryQuery описывает фильтр списка категорий.
type CategoryQuery struct {
	OnlyActive bool `json:"onlyActive"`
}
