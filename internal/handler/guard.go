package handler

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/watchlist-kata/movietracker/internal/repository"
)

// loadOwned loads an entity and checks that userID owns it. A missing entity
// is ErrRecordNotFound, someone else's is ErrForbidden.
func loadOwned[T any](
	ctx context.Context,
	id, userID uint,
	load func(context.Context, uint) (*T, error),
	owner func(*T) uint,
) (*T, error) {
	entity, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	if owner(entity) != userID {
		return nil, repository.ErrForbidden
	}
	return entity, nil
}

func (h *Handler) ownedWatchlistEntry(c echo.Context) (*repository.GormWatchlist, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return nil, err
	}
	return loadOwned(c.Request().Context(), id, userIDFrom(c), h.watchlist.GetWatchlistEntry,
		func(e *repository.GormWatchlist) uint { return e.UserID })
}

func (h *Handler) ownedWatchHistoryEntry(c echo.Context) (*repository.GormWatchHistory, error) {
	id, err := pathID(c, "id")
	if err != nil {
		return nil, err
	}
	return loadOwned(c.Request().Context(), id, userIDFrom(c), h.history.GetWatchHistoryEntry,
		func(e *repository.GormWatchHistory) uint { return e.UserID })
}
