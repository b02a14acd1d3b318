package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gorm.io/gorm"
)

const (
	MinRating = 1
	MaxRating = 10
)

// futureTolerance допускает небольшое расхождение часов клиента и сервера
const futureTolerance = 5 * time.Minute

// NewWatchHistory содержит данные для отметки «просмотрено»
type NewWatchHistory struct {
	UserID    uint
	MovieID   uint
	WatchedAt time.Time // нулевое значение означает текущее время
	Rating    *int
	Notes     *string
	// RemoveFromWatchlist удаляет фильм из списка просмотра в той же транзакции
	RemoveFromWatchlist bool
}

// WatchHistoryUpdate описывает частичное обновление записи истории.
// nil-поля не меняются; Clear* сбрасывают значение в NULL.
type WatchHistoryUpdate struct {
	WatchedAt   *time.Time
	Rating      *int
	ClearRating bool
	Notes       *string
	ClearNotes  bool
}

// Empty сообщает, что обновление ничего не меняет
func (u WatchHistoryUpdate) Empty() bool {
	return u.WatchedAt == nil && u.Rating == nil && !u.ClearRating && u.Notes == nil && !u.ClearNotes
}

// WatchHistoryStats содержит агрегаты истории просмотра пользователя
type WatchHistoryStats struct {
	Total              int64
	RatedCount         int64
	AverageRating      float64
	DistinctMediaTypes int64
}

// ValidateRating проверяет, что оценка лежит в [1,10]
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("%w: rating must be between %d and %d (got %d)", ErrValidation, MinRating, MaxRating, rating)
	}
	return nil
}

func validateWatchedAt(t time.Time) error {
	if t.After(time.Now().Add(futureTolerance)) {
		return fmt.Errorf("%w: watchedAt must not be in the future", ErrValidation)
	}
	return nil
}

// AddWatchHistory создает запись истории; RewatchCount равен числу прежних просмотров того же фильма
func (r *GormRepository) AddWatchHistory(ctx context.Context, in NewWatchHistory) (*GormWatchHistory, error) {
	if err := r.checkContext(ctx, "AddWatchHistory"); err != nil {
		return nil, err
	}
	if in.Rating != nil {
		if err := ValidateRating(*in.Rating); err != nil {
			return nil, err
		}
	}
	if in.WatchedAt.IsZero() {
		in.WatchedAt = time.Now().UTC()
	}
	if err := validateWatchedAt(in.WatchedAt); err != nil {
		return nil, err
	}

	entry := &GormWatchHistory{
		UserID:    in.UserID,
		MovieID:   in.MovieID,
		WatchedAt: in.WatchedAt.UTC(),
		Rating:    in.Rating,
		Notes:     in.Notes,
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.movieExists(tx, in.MovieID); err != nil {
			return err
		}

		var previous int64
		if err := tx.Model(&GormWatchHistory{}).
			Where("user_id = ? AND movie_id = ?", in.UserID, in.MovieID).
			Count(&previous).Error; err != nil {
			return err
		}
		entry.RewatchCount = int(previous)

		if err := tx.Omit("Movie").Create(entry).Error; err != nil {
			return err
		}

		if in.RemoveFromWatchlist {
			if err := tx.Where("user_id = ? AND movie_id = ?", in.UserID, in.MovieID).Delete(&GormWatchlist{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		err = translate(err)
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to add watch history for movie ID: %d and user ID: %d", in.MovieID, in.UserID), slog.Any("error", err))
		return nil, err
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("watch history added for movie ID: %d and user ID: %d", in.MovieID, in.UserID), slog.Int("rewatch_count", entry.RewatchCount))
	return r.GetWatchHistoryEntry(ctx, entry.ID)
}

// GetWatchHistoryEntry возвращает запись истории вместе с фильмом
func (r *GormRepository) GetWatchHistoryEntry(ctx context.Context, id uint) (*GormWatchHistory, error) {
	if err := r.checkContext(ctx, "GetWatchHistoryEntry"); err != nil {
		return nil, err
	}

	var entry GormWatchHistory
	if err := r.db.WithContext(ctx).Preload("Movie").First(&entry, id).Error; err != nil {
		err = translate(err)
		if !errors.Is(err, ErrRecordNotFound) {
			r.logger.ErrorContext(ctx, fmt.Sprintf("failed to get watch history entry ID: %d", id), slog.Any("error", err))
		}
		return nil, err
	}
	return &entry, nil
}

// ListWatchHistory возвращает страницу истории просмотра пользователя
func (r *GormRepository) ListWatchHistory(ctx context.Context, userID uint, opts ListOptions) (*Page[GormWatchHistory], error) {
	if err := r.checkContext(ctx, "ListWatchHistory"); err != nil {
		return nil, err
	}
	opts = opts.normalize()

	order, err := orderClause(historySortColumns, "watch_history.id", opts.SortBy, opts.SortOrder, SortByWatchedAt, SortDesc)
	if err != nil {
		return nil, err
	}
	if opts.MinRating != 0 {
		if err := ValidateRating(opts.MinRating); err != nil {
			return nil, err
		}
	}

	base := r.db.WithContext(ctx).Model(&GormWatchHistory{}).
		Joins("JOIN movies ON movies.id = watch_history.movie_id").
		Where("watch_history.user_id = ?", userID)
	if opts.Year > 0 {
		from := time.Date(opts.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		base = base.Where("watch_history.watched_at >= ? AND watch_history.watched_at < ?", from, from.AddDate(1, 0, 0))
	}
	if opts.MinRating > 0 {
		base = base.Where("watch_history.rating >= ?", opts.MinRating)
	}
	if opts.Search != "" {
		pattern := likePattern(opts.Search)
		base = base.Where(`(LOWER(movies.title) LIKE ? ESCAPE '\' OR LOWER(COALESCE(watch_history.notes, '')) LIKE ? ESCAPE '\')`, pattern, pattern)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to count watch history for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	var entries []GormWatchHistory
	if err := base.Preload("Movie").Order(order).Limit(opts.Limit).Offset(opts.Offset).Find(&entries).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to get watch history for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("watch history fetched successfully for user ID: %d", userID), slog.Int64("total", total))
	return newPage(entries, total, opts), nil
}

// SearchWatchHistory ищет подстроку в названиях и заметках
func (r *GormRepository) SearchWatchHistory(ctx context.Context, userID uint, query string, opts ListOptions) (*Page[GormWatchHistory], error) {
	opts.Search = query
	return r.ListWatchHistory(ctx, userID, opts)
}

// UpdateWatchHistory меняет оценку, заметки или дату просмотра
func (r *GormRepository) UpdateWatchHistory(ctx context.Context, id uint, upd WatchHistoryUpdate) (*GormWatchHistory, error) {
	if err := r.checkContext(ctx, "UpdateWatchHistory"); err != nil {
		return nil, err
	}

	changes := map[string]any{}
	switch {
	case upd.ClearRating:
		changes["rating"] = nil
	case upd.Rating != nil:
		if err := ValidateRating(*upd.Rating); err != nil {
			return nil, err
		}
		changes["rating"] = *upd.Rating
	}
	switch {
	case upd.ClearNotes:
		changes["notes"] = nil
	case upd.Notes != nil:
		changes["notes"] = *upd.Notes
	}
	if upd.WatchedAt != nil {
		if err := validateWatchedAt(*upd.WatchedAt); err != nil {
			return nil, err
		}
		changes["watched_at"] = upd.WatchedAt.UTC()
	}

	if _, err := r.GetWatchHistoryEntry(ctx, id); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return r.GetWatchHistoryEntry(ctx, id)
	}

	if err := r.db.WithContext(ctx).Model(&GormWatchHistory{ID: id}).Updates(changes).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to update watch history entry ID: %d", id), slog.Any("error", err))
		return nil, err
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("watch history entry updated ID: %d", id))
	return r.GetWatchHistoryEntry(ctx, id)
}

// RemoveWatchHistory удаляет запись истории
func (r *GormRepository) RemoveWatchHistory(ctx context.Context, id uint) error {
	if err := r.checkContext(ctx, "RemoveWatchHistory"); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Delete(&GormWatchHistory{}, id)
	if res.Error != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to remove watch history entry ID: %d", id), slog.Any("error", res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("watch history entry removed ID: %d", id))
	return nil
}

// WatchHistoryStats считает записи, оценки и типы медиа в истории пользователя
func (r *GormRepository) WatchHistoryStats(ctx context.Context, userID uint) (*WatchHistoryStats, error) {
	if err := r.checkContext(ctx, "WatchHistoryStats"); err != nil {
		return nil, err
	}

	var row struct {
		Total      int64
		Rated      int64
		Average    *float64
		MediaTypes int64
	}
	if err := r.db.WithContext(ctx).Table("watch_history").
		Select("COUNT(*) AS total, COUNT(watch_history.rating) AS rated, AVG(watch_history.rating) AS average, COUNT(DISTINCT movies.media_type) AS media_types").
		Joins("JOIN movies ON movies.id = watch_history.movie_id").
		Where("watch_history.user_id = ?", userID).
		Scan(&row).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to get watch history stats for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	stats := &WatchHistoryStats{
		Total:              row.Total,
		RatedCount:         row.Rated,
		DistinctMediaTypes: row.MediaTypes,
	}
	if row.Average != nil {
		stats.AverageRating = math.Round(*row.Average*10) / 10
	}
	return stats, nil
}
