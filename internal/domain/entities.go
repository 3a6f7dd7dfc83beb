package domain

import (
	"fmt"
	"strings"
	"time"
)

// Fact описывает единицу контента ленты.
type Fact struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Image        string    `json:"image,omitempty"`
	CategoryID   string    `json:"categoryId"`
	CategoryName string    `json:"categoryName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FactWithViews: факт в административном списке вместе с числом просмотров.
type FactWithViews struct {
	Fact
	Views int `json:"views"`
}

// Category описывает категорию фактов.
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Image       string    `json:"image"`
	IsActive    bool      `json:"isActive"`
	SortOrder   int       `json:"sortOrder"`
	FactsCount  int       `json:"factsCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SubjectKind различает авторизованного и анонимного зрителя.
type SubjectKind string

const (
	SubjectUser SubjectKind = "user"
	SubjectAnon SubjectKind = "anon"
)

// Subject: зритель контента: пользователь или анонимный клиент.
type Subject struct {
	Kind SubjectKind
	ID   string
}

// NewSubject собирает зрителя из идентификаторов запроса.
// Должен быть указан ровно один идентификатор.
func NewSubject(userID, anonID string) (Subject, error) {
	userID = strings.TrimSpace(userID)
	anonID = strings.TrimSpace(anonID)
	switch {
	case userID != "" && anonID != "":
		return Subject{}, fmt.Errorf("%w: нужен либо айди пользователя, либо анонимный айди, но не оба", ErrValidation)
	case userID != "":
		return Subject{Kind: SubjectUser, ID: userID}, nil
	case anonID != "":
		return Subject{Kind: SubjectAnon, ID: anonID}, nil
	default:
		return Subject{}, fmt.Errorf("%w: айди пользователя или анонимный айди обязательны", ErrValidation)
	}
}

// IsZero сообщает, что зритель не задан.
func (s Subject) IsZero() bool {
	return s.ID == ""
}

// Authenticated сообщает, что зритель является авторизованным пользователем.
func (s Subject) Authenticated() bool {
	return s.Kind == SubjectUser
}

// Key возвращает стабильное строковое представление для ключей кэша и логов.
func (s Subject) Key() string {
	return string(s.Kind) + ":" + s.ID
}

// ViewEvent: факт просмотра. Создаётся один раз на пару (зритель, факт).
type ViewEvent struct {
	ID       int64
	Subject  Subject
	FactID   string
	ViewedAt time.Time
}

// ViewedFact: элемент множества просмотренных фактов.
type ViewedFact struct {
	FactID   string    `json:"factId"`
	ViewedAt time.Time `json:"viewedAt"`
}

// SeenFact: ранее просмотренный факт вместе со временем просмотра.
type SeenFact struct {
	Fact     Fact
	ViewedAt time.Time
}

// PreferenceSignal описывает привычки зрителя.
type PreferenceSignal struct {
	PreferredHour       int     `json:"preferredTimeOfDay"`
	AverageViewDuration float64 `json:"averageViewDuration"`
	CompletionRate      float64 `json:"completionRate"`
}

// CategoryAffinity отображает категорию в вес интереса [0.5, 1.5].
type CategoryAffinity map[string]float64

// CategoryEngagement агрегирует просмотры зрителя внутри одной категории.
// Нулевые AverageViewDuration и CompletionRate означают «не измерялось».
type CategoryEngagement struct {
	ViewCount           int
	LastViewedAt        time.Time
	AverageViewDuration float64
	CompletionRate      float64
}

// FeedPage: страница ленты, она же значение в кэше.
type FeedPage struct {
	Facts   []Fact `json:"facts"`
	HasMore bool   `json:"hasMore"`
}

// FactPage: страница административного списка фактов.
type FactPage struct {
	Facts []FactWithViews `json:"facts"`
	Total int             `json:"total"`
}

// User: пользователь в том объёме, который нужен ленте: заявленные интересы.
type User struct {
	ID        string
	Interests []string
}
