package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/watchlist-kata/movietracker/internal/repository"
	"github.com/watchlist-kata/protos/watchlist"
)

// WatchlistService реализует gRPC WatchlistService поверх репозитория списка просмотра.
// media_id в запросах: идентификатор локальной записи фильма.
type WatchlistService struct {
	watchlist.UnimplementedWatchlistServiceServer
	repo   repository.WatchlistRepository
	logger *slog.Logger
}

// NewWatchlistService создает новый экземпляр WatchlistService
func NewWatchlistService(repo repository.WatchlistRepository, logger *slog.Logger) *WatchlistService {
	return &WatchlistService{repo: repo, logger: logger}
}

// checkContextCancelled проверяет отмену контекста и логирует ошибку
func (s *WatchlistService) checkContextCancelled(ctx context.Context, method string) error {
	select {
	case <-ctx.Done():
		s.logger.ErrorContext(ctx, fmt.Sprintf("%s operation canceled", method), slog.Any("error", ctx.Err()))
		return status.Error(codes.Canceled, ctx.Err().Error())
	default:
		return nil
	}
}

// validateIDs проверяет, что идентификаторы положительны
func (s *WatchlistService) validateIDs(ctx context.Context, mediaID, userID int64) error {
	if mediaID <= 0 || userID <= 0 {
		s.logger.WarnContext(ctx, "invalid media_id or user_id: must be positive integers")
		return status.Error(codes.InvalidArgument, "media_id и user_id должны быть положительными числами")
	}
	return nil
}

// toStatus переводит ошибки репозитория в коды gRPC
func toStatus(err error, msg string) error {
	switch {
	case errors.Is(err, repository.ErrRecordNotFound):
		return status.Error(codes.NotFound, msg+": запись не найдена")
	case errors.Is(err, repository.ErrValidation):
		return status.Errorf(codes.InvalidArgument, "%s: %v", msg, err)
	case errors.Is(err, repository.ErrForbidden):
		return status.Error(codes.PermissionDenied, msg+": запись принадлежит другому пользователю")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, msg)
}

// AddToWatchlist добавляет медиа в конец списка просмотра с приоритетом по умолчанию
func (s *WatchlistService) AddToWatchlist(ctx context.Context, req *watchlist.AddToWatchlistRequest) (*watchlist.AddToWatchlistResponse, error) {
	if err := s.checkContextCancelled(ctx, "AddToWatchlist"); err != nil {
		return nil, err
	}
	if err := s.validateIDs(ctx, req.MediaId, req.UserId); err != nil {
		return nil, err
	}

	_, err := s.repo.AddToWatchlist(ctx, uint(req.UserId), uint(req.MediaId), repository.DefaultPriority)
	if err != nil {
		// Повторное добавление считается успешным (идемпотентность операции)
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return &watchlist.AddToWatchlistResponse{Success: true}, nil
		}
		return nil, toStatus(err, "ошибка при добавлении в watchlist")
	}
	return &watchlist.AddToWatchlistResponse{Success: true}, nil
}

// RemoveFromWatchlist удаляет медиа из списка просмотра пользователя
func (s *WatchlistService) RemoveFromWatchlist(ctx context.Context, req *watchlist.RemoveFromWatchlistRequest) (*watchlist.RemoveFromWatchlistResponse, error) {
	if err := s.checkContextCancelled(ctx, "RemoveFromWatchlist"); err != nil {
		return nil, err
	}
	if err := s.validateIDs(ctx, req.MediaId, req.UserId); err != nil {
		return nil, err
	}

	err := s.repo.RemoveMovieFromWatchlist(ctx, uint(req.UserId), uint(req.MediaId))
	if err != nil {
		// Отсутствующий элемент не ошибка, но и не успех
		if errors.Is(err, repository.ErrRecordNotFound) {
			return &watchlist.RemoveFromWatchlistResponse{Success: false}, nil
		}
		return nil, toStatus(err, "ошибка при удалении из watchlist")
	}
	return &watchlist.RemoveFromWatchlistResponse{Success: true}, nil
}

// GetWatchlist возвращает весь список просмотра пользователя в пользовательском порядке
func (s *WatchlistService) GetWatchlist(ctx context.Context, req *watchlist.GetWatchlistRequest) (*watchlist.GetWatchlistResponse, error) {
	if err := s.checkContextCancelled(ctx, "GetWatchlist"); err != nil {
		return nil, err
	}
	if req.UserId <= 0 {
		s.logger.WarnContext(ctx, "invalid user_id: must be a positive integer")
		return nil, status.Error(codes.InvalidArgument, "user_id должен быть положительным числом")
	}

	var items []*watchlist.WatchlistItem
	opts := repository.ListOptions{Limit: repository.MaxLimit, SortBy: repository.SortByPosition, SortOrder: repository.SortAsc}
	for {
		page, err := s.repo.ListWatchlist(ctx, uint(req.UserId), opts)
		if err != nil {
			return nil, toStatus(err, "ошибка при получении watchlist")
		}
		if items == nil {
			items = make([]*watchlist.WatchlistItem, 0, page.Total)
		}
		for _, gw := range page.Items {
			items = append(items, &watchlist.WatchlistItem{
				Id:        int64(gw.ID),
				MediaId:   int64(gw.MovieID),
				UserId:    int64(gw.UserID),
				CreatedAt: gw.CreatedAt.Format(time.RFC3339),
			})
		}
		if page.Page >= page.TotalPages || len(page.Items) == 0 {
			break
		}
		opts.Offset += opts.Limit
	}

	return &watchlist.GetWatchlistResponse{Watchlists: items}, nil
}

// CheckInWatchlist проверяет, находится ли медиа в списке просмотра пользователя
func (s *WatchlistService) CheckInWatchlist(ctx context.Context, req *watchlist.CheckInWatchlistRequest) (*watchlist.CheckInWatchlistResponse, error) {
	if err := s.checkContextCancelled(ctx, "CheckInWatchlist"); err != nil {
		return nil, err
	}
	if err := s.validateIDs(ctx, req.MediaId, req.UserId); err != nil {
		return nil, err
	}

	entry, err := s.repo.CheckInWatchlist(ctx, uint(req.UserId), uint(req.MediaId))
	if err != nil {
		return nil, toStatus(err, "ошибка при проверке наличия в watchlist")
	}
	return &watchlist.CheckInWatchlistResponse{InWatchlist: entry != nil}, nil
}
