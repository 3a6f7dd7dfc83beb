package domain

import "time"

// CategoryViews: категория и суммарные просмотры её фактов.
type CategoryViews struct {
	CategoryID  string `json:"categoryId"`
	Name        string `json:"categoryName"`
	Description string `json:"categoryDescription"`
	Image       string `json:"categoryImage"`
	TotalViews  int    `json:"totalViews"`
}

// FactViews: факт и число его просмотров.
type FactViews struct {
	FactID       string `json:"factId"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	CategoryName string `json:"categoryName"`
	TotalViews   int    `json:"totalViews"`
}

// SubjectActivity: активность просмотров одного зрителя.
type SubjectActivity struct {
	SubjectKey        string    `json:"subject"`
	TotalViews        int       `json:"totalViews"`
	UniqueFactsViewed int       `json:"uniqueFactsViewed"`
	LastViewed        time.Time `json:"lastViewed"`
}

// DailyActivity: просмотры за календарный день (UTC).
type DailyActivity struct {
	Date          string `json:"date"`
	TotalViews    int    `json:"totalViews"`
	UniqueViewers int    `json:"uniqueViewers"`
	UniqueFacts   int    `json:"uniqueFacts"`
}

// HourlyActivity: просмотры по часу суток.
type HourlyActivity struct {
	Hour          int `json:"hour"`
	TotalViews    int `json:"totalViews"`
	UniqueViewers int `json:"uniqueViewers"`
}

// Dashboard собирает статистику для админки.
type Dashboard struct {
	TotalFacts      int               `json:"totalFacts"`
	TotalCategories int               `json:"totalCategories"`
	TopCategories   []CategoryViews   `json:"topCategories"`
	TopFacts        []FactViews       `json:"topFacts"`
	SubjectActivity []SubjectActivity `json:"viewActivity"`
	DailyActivity   []DailyActivity   `json:"dailyActivity"`
	HourlyActivity  []HourlyActivity  `json:"hourlyActivity"`
	GeneratedAt     time.Time         `json:"generatedAt"`
}
