package repository

import (
	"fmt"
	"strings"
	"time"
)

// Priority задает пользовательскую срочность элемента списка просмотра
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DefaultPriority используется, когда приоритет не передан
const DefaultPriority = PriorityMedium

// ParsePriority разбирает строку приоритета; пустая строка дает DefaultPriority
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return DefaultPriority, nil
	}
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: priority must be one of low, medium, high (got %q)", ErrValidation, s)
	}
	return p, nil
}

// Valid сообщает, входит ли значение в {low, medium, high}
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank возвращает порядковый номер: low < medium < high
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	}
	return 0
}

// Типы медиа каталога
const (
	MediaTypeMovie = "movie"
	MediaTypeTV    = "tv"
)

// GormMovie представляет локальную копию фильма или сериала из внешнего каталога
type GormMovie struct {
	ID          uint       `gorm:"primaryKey"`
	TMDBID      int64      `gorm:"column:tmdb_id;not null;uniqueIndex"`
	Title       string     `gorm:"not null;index"`
	PosterPath  string     `gorm:"column:poster_path"`
	ReleaseDate *time.Time `gorm:"column:release_date"`
	VoteAverage float64    `gorm:"column:vote_average"`
	MediaType   string     `gorm:"column:media_type;type:varchar(10);not null;default:'movie'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName возвращает имя таблицы для модели GormMovie
func (GormMovie) TableName() string {
	return "movies"
}

// GormWatchlist представляет модель списка просмотра в базе данных
type GormWatchlist struct {
	ID      uint `gorm:"primaryKey"`
	UserID  uint `gorm:"not null;uniqueIndex:idx_watchlist_user_movie,priority:1;index:idx_watchlist_user_position,priority:1"`
	MovieID uint `gorm:"not null;uniqueIndex:idx_watchlist_user_movie,priority:2"`
	// Priority не влияет на Position
	Priority Priority `gorm:"type:varchar(10);not null;default:'medium'"`
	// Position является разреженным ключом пользовательской сортировки, после удаления возможны пропуски
	Position  int `gorm:"not null;index:idx_watchlist_user_position,priority:2"`
	CreatedAt time.Time

	Movie GormMovie `gorm:"foreignKey:MovieID"`
}

// TableName возвращает имя таблицы для модели GormWatchlist
func (GormWatchlist) TableName() string {
	return "watchlist"
}

// GormWatchHistory представляет запись истории просмотра
type GormWatchHistory struct {
	ID           uint      `gorm:"primaryKey"`
	UserID       uint      `gorm:"not null;index:idx_watch_history_user_watched,priority:1"`
	MovieID      uint      `gorm:"not null;index"`
	WatchedAt    time.Time `gorm:"not null;index:idx_watch_history_user_watched,priority:2"`
	Rating       *int      // 1..10, nil означает отсутствие оценки
	Notes        *string   `gorm:"type:text"`
	RewatchCount int       `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Movie GormMovie `gorm:"foreignKey:MovieID"`
}

// TableName возвращает имя таблицы для модели GormWatchHistory
func (GormWatchHistory) TableName() string {
	return "watch_history"
}

// Models перечисляет модели для автомиграции
func Models() []any {
	return []any{&GormMovie{}, &GormWatchlist{}, &GormWatchHistory{}}
}
