package repository

import (
	"fmt"
	"strings"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxPage ограничивает номер страницы, чтобы смещение не переполнялось
	MaxPage = 100000
)

// Направления сортировки
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Поля сортировки
const (
	SortByPosition  = "position"
	SortByAddedAt   = "addedAt"
	SortByPriority  = "priority"
	SortByTitle     = "title"
	SortByWatchedAt = "watchedAt"
	SortByRating    = "rating"
)

// ListOptions описывает пагинацию, фильтры и сортировку списков
type ListOptions struct {
	Limit  int
	Offset int

	SortBy    string
	SortOrder string

	// Search ищет подстроку названия (и заметок для истории), без учета регистра
	Search string
	// Priority фильтрует список просмотра
	Priority Priority
	// Year фильтрует историю по году просмотра
	Year int
	// MinRating фильтрует историю по минимальной оценке
	MinRating int
}

// normalize приводит лимиты к допустимым значениям
func (o ListOptions) normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Limit > MaxLimit {
		o.Limit = MaxLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	o.SortOrder = strings.ToLower(o.SortOrder)
	return o
}

// OffsetForPage переводит номер страницы (с 1) в смещение
func OffsetForPage(page, limit int) int {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return (page - 1) * limit
}

// Page содержит одну страницу результатов и общее количество
type Page[T any] struct {
	Items      []T
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

func newPage[T any](items []T, total int64, opts ListOptions) *Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := int((total + int64(opts.Limit) - 1) / int64(opts.Limit))
	return &Page[T]{
		Items:      items,
		Total:      total,
		Page:       opts.Offset/opts.Limit + 1,
		Limit:      opts.Limit,
		TotalPages: totalPages,
	}
}

// orderClause строит ORDER BY из белого списка выражений, id служит вторичным ключом
func orderClause(columns map[string]string, idColumn, sortBy, sortOrder, defaultSort, defaultOrder string) (string, error) {
	if sortBy == "" {
		sortBy = defaultSort
	}
	expr, ok := columns[sortBy]
	if !ok {
		return "", fmt.Errorf("%w: unsupported sortBy %q", ErrValidation, sortBy)
	}
	if sortOrder == "" {
		sortOrder = defaultOrder
	}
	if sortOrder != SortAsc && sortOrder != SortDesc {
		return "", fmt.Errorf("%w: sortOrder must be asc or desc (got %q)", ErrValidation, sortOrder)
	}
	dir := strings.ToUpper(sortOrder)
	return fmt.Sprintf("%s %s, %s %s", expr, dir, idColumn, dir), nil
}

var watchlistSortColumns = map[string]string{
	SortByPosition: "watchlist.position",
	SortByAddedAt:  "watchlist.created_at",
	SortByPriority: "CASE watchlist.priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 ELSE 0 END",
	SortByTitle:    "LOWER(movies.title)",
}

var historySortColumns = map[string]string{
	SortByWatchedAt: "watch_history.watched_at",
	SortByAddedAt:   "watch_history.created_at",
	// NULL оценки сортируются как 0
	SortByRating: "COALESCE(watch_history.rating, 0)",
	SortByTitle:  "LOWER(movies.title)",
}
