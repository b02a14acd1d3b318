package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm/clause"
)

// UpsertMovie сохраняет фильм по внешнему идентификатору каталога без дублей.
// После вызова movie содержит актуальную локальную запись.
func (r *GormRepository) UpsertMovie(ctx context.Context, movie *GormMovie) error {
	if err := r.checkContext(ctx, "UpsertMovie"); err != nil {
		return err
	}
	if movie.TMDBID <= 0 || movie.Title == "" {
		return fmt.Errorf("%w: movie requires catalog id and title", ErrValidation)
	}
	if movie.MediaType == "" {
		movie.MediaType = MediaTypeMovie
	}

	db := r.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tmdb_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "poster_path", "release_date", "vote_average", "media_type", "updated_at"}),
	}).Create(movie).Error
	if err != nil {
		r.logger.ErrorContext(ctx, fmt.Sprintf("failed to upsert movie with catalog ID: %d", movie.TMDBID), slog.Any("error", err))
		return translate(err)
	}

	var stored GormMovie
	if err := db.Where("tmdb_id = ?", movie.TMDBID).First(&stored).Error; err != nil {
		return translate(err)
	}
	*movie = stored

	r.logger.InfoContext(ctx, fmt.Sprintf("movie synced from catalog ID: %d", movie.TMDBID), slog.Uint64("movie_id", uint64(movie.ID)))
	return nil
}

// GetMovie возвращает локальную запись фильма
func (r *GormRepository) GetMovie(ctx context.Context, id uint) (*GormMovie, error) {
	if err := r.checkContext(ctx, "GetMovie"); err != nil {
		return nil, err
	}

	var movie GormMovie
	if err := r.db.WithContext(ctx).First(&movie, id).Error; err != nil {
		err = translate(err)
		if !errors.Is(err, ErrRecordNotFound) {
			r.logger.ErrorContext(ctx, fmt.Sprintf("failed to get movie ID: %d", id), slog.Any("error", err))
		}
		return nil, err
	}
	return &movie, nil
}
