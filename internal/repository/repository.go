package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrRecordNotFound возвращается, когда запись не найдена
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateEntry возвращается при попытке создать дублирующуюся запись
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrValidation возвращается при недопустимых входных данных
	ErrValidation = errors.New("validation failed")
	// ErrForbidden возвращается, когда запись принадлежит другому пользователю
	ErrForbidden = errors.New("entry belongs to another user")
)

// WatchlistRepository представляет интерфейс репозитория для работы со списками просмотра
type WatchlistRepository interface {
	AddToWatchlist(ctx context.Context, userID, movieID uint, priority Priority) (*GormWatchlist, error)
	GetWatchlistEntry(ctx context.Context, id uint) (*GormWatchlist, error)
	ListWatchlist(ctx context.Context, userID uint, opts ListOptions) (*Page[GormWatchlist], error)
	SearchWatchlist(ctx context.Context, userID uint, query string, opts ListOptions) (*Page[GormWatchlist], error)
	UpdatePriority(ctx context.Context, id uint, priority Priority) (*GormWatchlist, error)
	RemoveFromWatchlist(ctx context.Context, id uint) error
	RemoveMovieFromWatchlist(ctx context.Context, userID, movieID uint) error
	CheckInWatchlist(ctx context.Context, userID, movieID uint) (*GormWatchlist, error)
	WatchlistStats(ctx context.Context, userID uint) (*WatchlistStats, error)
	BulkUpdatePriorities(ctx context.Context, userID uint, updates []PriorityUpdate) ([]GormWatchlist, error)
	ReorderWatchlist(ctx context.Context, userID uint, orderedIDs []uint) ([]GormWatchlist, error)
}

// WatchHistoryRepository представляет интерфейс репозитория истории просмотра
type WatchHistoryRepository interface {
	AddWatchHistory(ctx context.Context, in NewWatchHistory) (*GormWatchHistory, error)
	GetWatchHistoryEntry(ctx context.Context, id uint) (*GormWatchHistory, error)
	ListWatchHistory(ctx context.Context, userID uint, opts ListOptions) (*Page[GormWatchHistory], error)
	SearchWatchHistory(ctx context.Context, userID uint, query string, opts ListOptions) (*Page[GormWatchHistory], error)
	UpdateWatchHistory(ctx context.Context, id uint, upd WatchHistoryUpdate) (*GormWatchHistory, error)
	RemoveWatchHistory(ctx context.Context, id uint) error
	WatchHistoryStats(ctx context.Context, userID uint) (*WatchHistoryStats, error)
}

// MovieRepository хранит локальные копии записей каталога
type MovieRepository interface {
	UpsertMovie(ctx context.Context, movie *GormMovie) error
	GetMovie(ctx context.Context, id uint) (*GormMovie, error)
}

// GormRepository реализует репозитории поверх GORM (PostgreSQL или SQLite)
type GormRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

var (
	_ WatchlistRepository    = (*GormRepository)(nil)
	_ WatchHistoryRepository = (*GormRepository)(nil)
	_ MovieRepository        = (*GormRepository)(nil)
)

// NewGormRepository создает новый экземпляр GormRepository
func NewGormRepository(db *gorm.DB, logger *slog.Logger) *GormRepository {
	return &GormRepository{db: db, logger: logger}
}

// AutoMigrate создает или обновляет таблицы моделей
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// checkContext проверяет отмену контекста и логирует ошибку
func (r *GormRepository) checkContext(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		r.logger.ErrorContext(ctx, fmt.Sprintf("%s operation canceled", op), slog.Any("error", ctx.Err()))
		return ctx.Err()
	default:
		return nil
	}
}

// translate приводит ошибки GORM к ошибкам репозитория
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrRecordNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateEntry
	}
	return err
}

// ensureOwned проверяет, что все ids принадлежат userID.
// Чужие записи дают ErrForbidden, несуществующие: ErrRecordNotFound.
func ensureOwned(tx *gorm.DB, model any, userID uint, ids []uint) error {
	var owned []uint
	if err := tx.Model(model).Where("user_id = ? AND id IN ?", userID, ids).Pluck("id", &owned).Error; err != nil {
		return err
	}
	if len(owned) == len(ids) {
		return nil
	}

	ownedSet := make(map[uint]struct{}, len(owned))
	for _, id := range owned {
		ownedSet[id] = struct{}{}
	}
	var missing []uint
	for _, id := range ids {
		if _, ok := ownedSet[id]; !ok {
			missing = append(missing, id)
		}
	}

	var foreign int64
	if err := tx.Model(model).Where("id IN ?", missing).Count(&foreign).Error; err != nil {
		return err
	}
	if foreign > 0 {
		return fmt.Errorf("%w: ids %v", ErrForbidden, missing)
	}
	return fmt.Errorf("%w: ids %v", ErrRecordNotFound, missing)
}

// uniqueIDs проверяет, что список не пуст и не содержит нулей и повторов
func uniqueIDs(ids []uint) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: id list must not be empty", ErrValidation)
	}
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return fmt.Errorf("%w: ids must be positive integers", ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: id %d listed more than once", ErrValidation, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func (r *GormRepository) movieExists(tx *gorm.DB, movieID uint) error {
	var count int64
	if err := tx.Model(&GormMovie{}).Where("id = ?", movieID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: movie %d", ErrRecordNotFound, movieID)
	}
	return nil
}

// likePattern строит шаблон LIKE для поиска подстроки без учета регистра
func likePattern(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	q = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	return "%" + q + "%"
}

// lockUserWatchlist сериализует изменения позиций одного пользователя до конца транзакции.
// В SQLite запись и так идет через одно соединение, блокировка нужна только PostgreSQL.
func lockUserWatchlist(tx *gorm.DB, userID uint) *gorm.DB {
	if tx.Dialector.Name() != "postgres" {
		return tx
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(userID))
}
