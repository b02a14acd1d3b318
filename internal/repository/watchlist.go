package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// PriorityUpdate описывает элемент массового обновления приоритетов
type PriorityUpdate struct {
	ID       uint
	Priority Priority
}

// WatchlistStats содержит агрегаты списка просмотра пользователя
type WatchlistStats struct {
	Total      int64
	ByPriority map[Priority]int64
}

// AddToWatchlist добавляет медиа в список просмотра пользователя в конец пользовательского порядка
func (r *GormRepository) AddToWatchlist(ctx context.Context, userID, movieID uint, priority Priority) (*GormWatchlist, error) {
	if err := r.checkContext(ctx, "AddToWatchlist"); err != nil {
		return nil, err
	}
	if priority == "" {
		priority = DefaultPriority
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority must be one of low, medium, high (got %q)", ErrValidation, priority)
	}

	entry := &GormWatchlist{UserID: userID, MovieID: movieID, Priority: priority}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.movieExists(tx, movieID); err != nil {
			return err
		}
		if err := lockUserWatchlist(tx, userID).Error; err != nil {
			return err
		}

		// Сначала проверяем, существует ли уже такая запись
		var count int64
		if err := tx.Model(&GormWatchlist{}).Where("user_id = ? AND movie_id = ?", userID, movieID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateEntry
		}

		var maxPosition int
		if err := tx.Model(&GormWatchlist{}).Where("user_id = ?", userID).
			Select("COALESCE(MAX(position), 0)").Scan(&maxPosition).Error; err != nil {
			return err
		}
		entry.Position = maxPosition + 1

		return tx.Omit("Movie").Create(entry).Error
	})
	if err != nil {
		err = translate(err)
		if errors.Is(err, ErrDuplicateEntry) {
			r.logger.WarnContext(ctx, fmt.Sprintf("media already in watchlist for movie ID: %d and user ID: %d", movieID, userID))
		} else {
			r.logger.ErrorContext(ctx, fmt.Sprintf("failed to add media to watchlist for movie ID: %d and user ID: %d", movieID, userID), slog.Any("error", err))
		}
		return nil, err
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("media added to watchlist successfully for movie ID: %d and user ID: %d", movieID, userID))
	return r.GetWatchlistEntry(ctx, entry.ID)
}

// GetWatchlistEntry возвращает элемент списка просмотра вместе с фильмом
func (r *GormRepository) GetWatchlistEntry(ctx context.Context, id uint) (*GormWatchlist, error) {
	if err := r.checkContext(ctx, "GetWatchlistEntry"); err != nil {
		return nil, err
	}

	var entry GormWatchlist
	if err := r.db.WithContext(ctx).Preload("Movie").First(&entry, id).Error; err != nil {
		err = translate(err)
		if !errors.Is(err, ErrRecordNotFound) {
			r.logger.ErrorContext(ctx, fmt.Sprintf("failed to get watchlist entry ID: %d", id), slog.Any("error", err))
		}
		return nil, err
	}
	return &entry, nil
}

// ListWatchlist возвращает страницу списка просмотра пользователя
func (r *GormRepository) ListWatchlist(ctx context.Context, userID uint, opts ListOptions) (*Page[GormWatchlist], error) {
	if err := r.checkContext(ctx, "ListWatchlist"); err != nil {
		return nil, err
	}
	opts = opts.normalize()

	order, err := orderClause(watchlistSortColumns, "watchlist.id", opts.SortBy, opts.SortOrder, SortByPosition, SortAsc)
	if err != nil {
		return nil, err
	}
	if opts.Priority != "" && !opts.Priority.Valid() {
		return nil, fmt.Errorf("%w: priority must be one of low, medium, high (got %q)", ErrValidation, opts.Priority)
	}

	base := r.db.WithContext(ctx).Model(&GormWatchlist{}).
		Joins("JOIN movies ON movies.id = watchlist.movie_id").
		Where("watchlist.user_id = ?", userID)
	if opts.Priority != "" {
		base = base.Where("watchlist.priority = ?", opts.Priority)
	}
	if opts.Search != "" {
		base = base.Where(`LOWER(movies.title) LIKE ? ESCAPE '\'`, likePattern(opts.Search))
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to count watchlist for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	var entries []GormWatchlist
	if err := base.Preload("Movie").Order(order).Limit(opts.Limit).Offset(opts.Offset).Find(&entries).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to get watchlist for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("watchlist fetched successfully for user ID: %d", userID), slog.Int64("total", total))
	return newPage(entries, total, opts), nil
}

// SearchWatchlist ищет подстроку в названиях фильмов списка просмотра
func (r *GormRepository) SearchWatchlist(ctx context.Context, userID uint, query string, opts ListOptions) (*Page[GormWatchlist], error) {
	opts.Search = query
	return r.ListWatchlist(ctx, userID, opts)
}

// UpdatePriority меняет только приоритет, позиция не меняется
func (r *GormRepository) UpdatePriority(ctx context.Context, id uint, priority Priority) (*GormWatchlist, error) {
	if err := r.checkContext(ctx, "UpdatePriority"); err != nil {
		return nil, err
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: priority must be one of low, medium, high (got %q)", ErrValidation, priority)
	}

	res := r.db.WithContext(ctx).Model(&GormWatchlist{}).Where("id = ?", id).Update("priority", priority)
	if res.Error != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to update priority for watchlist entry ID: %d", id), slog.Any("error", res.Error))
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("priority updated for watchlist entry ID: %d", id), slog.String("priority", string(priority)))
	return r.GetWatchlistEntry(ctx, id)
}

// RemoveFromWatchlist удаляет элемент; позиции оставшихся элементов не пересчитываются
func (r *GormRepository) RemoveFromWatchlist(ctx context.Context, id uint) error {
	if err := r.checkContext(ctx, "RemoveFromWatchlist"); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Delete(&GormWatchlist{}, id)
	if res.Error != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to remove watchlist entry ID: %d", id), slog.Any("error", res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.logger.WarnContext(ctx, fmt.Sprintf("watchlist entry not found ID: %d", id))
		return ErrRecordNotFound
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("watchlist entry removed successfully ID: %d", id))
	return nil
}

// RemoveMovieFromWatchlist удаляет медиа из списка просмотра пользователя
func (r *GormRepository) RemoveMovieFromWatchlist(ctx context.Context, userID, movieID uint) error {
	if err := r.checkContext(ctx, "RemoveMovieFromWatchlist"); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Where("movie_id = ? AND user_id = ?", movieID, userID).Delete(&GormWatchlist{})
	if res.Error != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to remove media from watchlist for movie ID: %d and user ID: %d", movieID, userID), slog.Any("error", res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		r.logger.WarnContext(ctx, fmt.Sprintf("media not found in watchlist for movie ID: %d and user ID: %d", movieID, userID))
		return ErrRecordNotFound
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("media removed from watchlist successfully for movie ID: %d and user ID: %d", movieID, userID))
	return nil
}

// CheckInWatchlist возвращает элемент списка для пары (пользователь, фильм) или nil
func (r *GormRepository) CheckInWatchlist(ctx context.Context, userID, movieID uint) (*GormWatchlist, error) {
	if err := r.checkContext(ctx, "CheckInWatchlist"); err != nil {
		return nil, err
	}

	var entries []GormWatchlist
	if err := r.db.WithContext(ctx).Preload("Movie").
		Where("user_id = ? AND movie_id = ?", userID, movieID).Limit(1).Find(&entries).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to check media in watchlist for movie ID: %d and user ID: %d", movieID, userID), slog.Any("error", err))
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// WatchlistStats считает элементы списка по приоритетам
func (r *GormRepository) WatchlistStats(ctx context.Context, userID uint) (*WatchlistStats, error) {
	if err := r.checkContext(ctx, "WatchlistStats"); err != nil {
		return nil, err
	}

	var rows []struct {
		Priority Priority
		Count    int64
	}
	if err := r.db.WithContext(ctx).Model(&GormWatchlist{}).
		Select("priority, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("priority").
		Scan(&rows).Error; err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to get watchlist stats for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	stats := &WatchlistStats{ByPriority: map[Priority]int64{
		PriorityLow:    0,
		PriorityMedium: 0,
		PriorityHigh:   0,
	}}
	for _, row := range rows {
		stats.ByPriority[row.Priority] += row.Count
		stats.Total += row.Count
	}
	return stats, nil
}

// BulkUpdatePriorities применяет все обновления в одной транзакции или ни одного.
// Все приоритеты проверяются до записи, все ids должны принадлежать userID.
func (r *GormRepository) BulkUpdatePriorities(ctx context.Context, userID uint, updates []PriorityUpdate) ([]GormWatchlist, error) {
	if err := r.checkContext(ctx, "BulkUpdatePriorities"); err != nil {
		return nil, err
	}

	ids := make([]uint, len(updates))
	for i, u := range updates {
		if !u.Priority.Valid() {
			return nil, fmt.Errorf("%w: update %d: priority must be one of low, medium, high (got %q)", ErrValidation, i, u.Priority)
		}
		ids[i] = u.ID
	}
	if err := uniqueIDs(ids); err != nil {
		return nil, err
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureOwned(tx, &GormWatchlist{}, userID, ids); err != nil {
			return err
		}
		for _, u := range updates {
			if err := tx.Model(&GormWatchlist{}).
				Where("id = ? AND user_id = ?", u.ID, userID).
				Update("priority", u.Priority).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, fmt.Sprintf("bulk priority update rejected for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	var entries []GormWatchlist
	if err := r.db.WithContext(ctx).Preload("Movie").Where("id IN ?", ids).Find(&entries).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]GormWatchlist, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}
	results := make([]GormWatchlist, 0, len(ids))
	for _, id := range ids {
		results = append(results, byID[id])
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("bulk priority update applied for user ID: %d", userID), slog.Int("count", len(updates)))
	return results, nil
}

// ReorderWatchlist назначает позиции 1..n по порядку orderedIDs.
// Элементы, не перечисленные в запросе, сохраняют относительный порядок и идут следом.
// Любой чужой или несуществующий id отклоняет весь запрос.
func (r *GormRepository) ReorderWatchlist(ctx context.Context, userID uint, orderedIDs []uint) ([]GormWatchlist, error) {
	if err := r.checkContext(ctx, "ReorderWatchlist"); err != nil {
		return nil, err
	}
	if err := uniqueIDs(orderedIDs); err != nil {
		return nil, err
	}

	var reordered []GormWatchlist
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserWatchlist(tx, userID).Error; err != nil {
			return err
		}
		if err := ensureOwned(tx, &GormWatchlist{}, userID, orderedIDs); err != nil {
			return err
		}

		var current []GormWatchlist
		if err := tx.Where("user_id = ?", userID).Order("position ASC, id ASC").Find(&current).Error; err != nil {
			return err
		}

		listed := make(map[uint]struct{}, len(orderedIDs))
		for _, id := range orderedIDs {
			listed[id] = struct{}{}
		}
		sequence := append([]uint{}, orderedIDs...)
		for _, e := range current {
			if _, ok := listed[e.ID]; !ok {
				sequence = append(sequence, e.ID)
			}
		}

		positions := make(map[uint]int, len(current))
		for _, e := range current {
			positions[e.ID] = e.Position
		}
		for i, id := range sequence {
			if positions[id] == i+1 {
				continue
			}
			if err := tx.Model(&GormWatchlist{}).
				Where("id = ? AND user_id = ?", id, userID).
				Update("position", i+1).Error; err != nil {
				return err
			}
		}

		return tx.Preload("Movie").Where("user_id = ?", userID).Order("position ASC, id ASC").Find(&reordered).Error
	})
	if err != nil {
		r.logger.WarnContext(ctx, fmt.Sprintf("watchlist reorder rejected for user ID: %d", userID), slog.Any("error", err))
		return nil, err
	}

	r.logger.InfoContext(ctx, fmt.Sprintf("watchlist reordered for user ID: %d", userID), slog.Int("count", len(reordered)))
	return reordered, nil
}
