package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/watchlist-kata/movietracker/internal/repository"
)

type listWatchlistQuery struct {
	Page      int    `query:"page" validate:"omitempty,min=1,max=100000"`
	Limit     int    `query:"limit" validate:"omitempty,min=1"`
	Search    string `query:"search" validate:"max=200"`
	Priority  string `query:"priority" validate:"omitempty,oneof=low medium high"`
	SortBy    string `query:"sortBy" validate:"omitempty,oneof=position addedAt priority title"`
	SortOrder string `query:"sortOrder" validate:"omitempty,oneof=asc desc"`
}

type addWatchlistRequest struct {
	MovieID  uint   `json:"movieId" validate:"required,gt=0"`
	Priority string `json:"priority" validate:"omitempty,oneof=low medium high"`
}

type updatePriorityRequest struct {
	Priority string `json:"priority" validate:"required,oneof=low medium high"`
}

type reorderRequest struct {
	OrderedIDs []uint `json:"orderedIds" validate:"required,min=1,max=1000,unique,dive,gt=0"`
}

type bulkPriorityItem struct {
	ID       uint   `json:"id" validate:"required,gt=0"`
	Priority string `json:"priority" validate:"required,oneof=low medium high"`
}

type bulkPriorityRequest struct {
	Updates []bulkPriorityItem `json:"updates" validate:"required,min=1,max=1000,dive"`
}

type watchlistStatusResponse struct {
	InWatchlist bool                    `json:"inWatchlist"`
	Entry       *watchlistEntryResponse `json:"entry,omitempty"`
}

type watchlistStatsResponse struct {
	Total      int64            `json:"total"`
	ByPriority map[string]int64 `json:"byPriority"`
}

type bulkPriorityResponse struct {
	Results []watchlistEntryResponse `json:"results"`
}

func (h *Handler) listWatchlist(c echo.Context) error {
	var q listWatchlistQuery
	if err := bind(c, &q); err != nil {
		return h.fail(c, err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = repository.DefaultLimit
	}
	if limit > repository.MaxLimit {
		limit = repository.MaxLimit
	}
	opts := repository.ListOptions{
		Limit:     limit,
		Offset:    repository.OffsetForPage(q.Page, limit),
		SortBy:    q.SortBy,
		SortOrder: q.SortOrder,
		Search:    q.Search,
		Priority:  repository.Priority(q.Priority),
	}

	page, err := h.watchlist.ListWatchlist(c.Request().Context(), userIDFrom(c), opts)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newListResponse(page, toWatchlistEntry))
}

func (h *Handler) watchlistStats(c echo.Context) error {
	stats, err := h.watchlist.WatchlistStats(c.Request().Context(), userIDFrom(c))
	if err != nil {
		return h.fail(c, err)
	}

	resp := watchlistStatsResponse{Total: stats.Total, ByPriority: map[string]int64{}}
	for _, p := range []repository.Priority{repository.PriorityLow, repository.PriorityMedium, repository.PriorityHigh} {
		resp.ByPriority[string(p)] = stats.ByPriority[p]
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) watchlistStatus(c echo.Context) error {
	movieID, err := pathID(c, "movieId")
	if err != nil {
		return h.fail(c, err)
	}

	entry, err := h.watchlist.CheckInWatchlist(c.Request().Context(), userIDFrom(c), movieID)
	if err != nil {
		return h.fail(c, err)
	}
	if entry == nil {
		return c.JSON(http.StatusOK, watchlistStatusResponse{InWatchlist: false})
	}
	resp := toWatchlistEntry(*entry)
	return c.JSON(http.StatusOK, watchlistStatusResponse{InWatchlist: true, Entry: &resp})
}

func (h *Handler) getWatchlistEntry(c echo.Context) error {
	entry, err := h.ownedWatchlistEntry(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toWatchlistEntry(*entry))
}

func (h *Handler) addToWatchlist(c echo.Context) error {
	var req addWatchlistRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	priority, err := repository.ParsePriority(req.Priority)
	if err != nil {
		return h.fail(c, err)
	}

	entry, err := h.watchlist.AddToWatchlist(c.Request().Context(), userIDFrom(c), req.MovieID, priority)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toWatchlistEntry(*entry))
}

func (h *Handler) updateWatchlistPriority(c echo.Context) error {
	var req updatePriorityRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	entry, err := h.ownedWatchlistEntry(c)
	if err != nil {
		return h.fail(c, err)
	}

	updated, err := h.watchlist.UpdatePriority(c.Request().Context(), entry.ID, repository.Priority(req.Priority))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toWatchlistEntry(*updated))
}

func (h *Handler) removeFromWatchlist(c echo.Context) error {
	entry, err := h.ownedWatchlistEntry(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.watchlist.RemoveFromWatchlist(c.Request().Context(), entry.ID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "removed from watchlist"})
}

func (h *Handler) reorderWatchlist(c echo.Context) error {
	var req reorderRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	entries, err := h.watchlist.ReorderWatchlist(c.Request().Context(), userIDFrom(c), req.OrderedIDs)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toWatchlistEntries(entries))
}

func (h *Handler) bulkUpdatePriority(c echo.Context) error {
	var req bulkPriorityRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	updates := make([]repository.PriorityUpdate, 0, len(req.Updates))
	for _, u := range req.Updates {
		updates = append(updates, repository.PriorityUpdate{ID: u.ID, Priority: repository.Priority(u.Priority)})
	}

	entries, err := h.watchlist.BulkUpdatePriorities(c.Request().Context(), userIDFrom(c), updates)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, bulkPriorityResponse{Results: toWatchlistEntries(entries)})
}
