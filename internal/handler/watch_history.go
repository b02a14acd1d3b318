package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/watchlist-kata/movietracker/internal/repository"
)

const maxNotesLength = 2000

// optional tells an absent JSON field apart from an explicit null.
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type listWatchHistoryQuery struct {
	Page      int    `query:"page" validate:"omitempty,min=1,max=100000"`
	Limit     int    `query:"limit" validate:"omitempty,min=1"`
	Search    string `query:"search" validate:"max=200"`
	Year      int    `query:"year" validate:"omitempty,min=1900,max=2200"`
	MinRating int    `query:"minRating" validate:"omitempty,min=1,max=10"`
	SortBy    string `query:"sortBy" validate:"omitempty,oneof=watchedAt addedAt rating title"`
	SortOrder string `query:"sortOrder" validate:"omitempty,oneof=asc desc"`
}

type addWatchHistoryRequest struct {
	MovieID             uint       `json:"movieId" validate:"required,gt=0"`
	WatchedAt           *time.Time `json:"watchedAt"`
	Rating              *int       `json:"rating" validate:"omitempty,min=1,max=10"`
	Notes               *string    `json:"notes" validate:"omitempty,max=2000"`
	RemoveFromWatchlist bool       `json:"removeFromWatchlist"`
}

type updateWatchHistoryRequest struct {
	WatchedAt optional[time.Time] `json:"watchedAt"`
	Rating    optional[int]       `json:"rating"`
	Notes     optional[string]    `json:"notes"`
}

// toUpdate validates the fields that were sent and builds the repository update.
func (r updateWatchHistoryRequest) toUpdate() (repository.WatchHistoryUpdate, error) {
	var upd repository.WatchHistoryUpdate

	if r.WatchedAt.Set {
		if r.WatchedAt.Value == nil {
			return upd, invalidInput("watchedAt cannot be cleared")
		}
		upd.WatchedAt = r.WatchedAt.Value
	}
	if r.Rating.Set {
		if r.Rating.Value == nil {
			upd.ClearRating = true
		} else {
			if err := repository.ValidateRating(*r.Rating.Value); err != nil {
				return upd, err
			}
			upd.Rating = r.Rating.Value
		}
	}
	if r.Notes.Set {
		if r.Notes.Value == nil {
			upd.ClearNotes = true
		} else {
			if len(*r.Notes.Value) > maxNotesLength {
				return upd, invalidInput("notes must be at most %d characters", maxNotesLength)
			}
			upd.Notes = r.Notes.Value
		}
	}
	if upd.Empty() {
		return upd, invalidInput("at least one of watchedAt, rating, notes is required")
	}
	return upd, nil
}

type watchHistoryStatsResponse struct {
	Total              int64   `json:"total"`
	RatedCount         int64   `json:"ratedCount"`
	AverageRating      float64 `json:"averageRating"`
	DistinctMediaTypes int64   `json:"distinctMediaTypes"`
}

func (h *Handler) listWatchHistory(c echo.Context) error {
	var q listWatchHistoryQuery
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
		Year:      q.Year,
		MinRating: q.MinRating,
	}

	page, err := h.history.ListWatchHistory(c.Request().Context(), userIDFrom(c), opts)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newListResponse(page, toWatchHistoryEntry))
}

func (h *Handler) watchHistoryStats(c echo.Context) error {
	stats, err := h.history.WatchHistoryStats(c.Request().Context(), userIDFrom(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, watchHistoryStatsResponse{
		Total:              stats.Total,
		RatedCount:         stats.RatedCount,
		AverageRating:      stats.AverageRating,
		DistinctMediaTypes: stats.DistinctMediaTypes,
	})
}

func (h *Handler) getWatchHistoryEntry(c echo.Context) error {
	entry, err := h.ownedWatchHistoryEntry(c)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toWatchHistoryEntry(*entry))
}

func (h *Handler) addWatchHistory(c echo.Context) error {
	var req addWatchHistoryRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	in := repository.NewWatchHistory{
		UserID:              userIDFrom(c),
		MovieID:             req.MovieID,
		Rating:              req.Rating,
		Notes:               req.Notes,
		RemoveFromWatchlist: req.RemoveFromWatchlist,
	}
	if req.WatchedAt != nil {
		in.WatchedAt = *req.WatchedAt
	}

	entry, err := h.history.AddWatchHistory(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, toWatchHistoryEntry(*entry))
}

func (h *Handler) updateWatchHistory(c echo.Context) error {
	var req updateWatchHistoryRequest
	if err := c.Bind(&req); err != nil {
		return h.fail(c, invalidInput("malformed request"))
	}
	upd, err := req.toUpdate()
	if err != nil {
		return h.fail(c, err)
	}
	entry, err := h.ownedWatchHistoryEntry(c)
	if err != nil {
		return h.fail(c, err)
	}

	updated, err := h.history.UpdateWatchHistory(c.Request().Context(), entry.ID, upd)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toWatchHistoryEntry(*updated))
}

func (h *Handler) removeWatchHistory(c echo.Context) error {
	entry, err := h.ownedWatchHistoryEntry(c)
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.history.RemoveWatchHistory(c.Request().Context(), entry.ID); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, messageResponse{Message: "removed from watch history"})
}
