package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/watchlist-kata/movietracker/internal/catalog"
	"github.com/watchlist-kata/movietracker/internal/repository"
)

type searchMoviesQuery struct {
	Query string `query:"q" validate:"required,max=200"`
	Page  int    `query:"page" validate:"omitempty,min=1,max=500"`
}

type syncMovieRequest struct {
	TMDBID    int64  `json:"tmdbId" validate:"required,gt=0"`
	MediaType string `json:"mediaType" validate:"omitempty,oneof=movie tv"`
}

func (h *Handler) searchMovies(c echo.Context) error {
	var q searchMoviesQuery
	if err := bind(c, &q); err != nil {
		return h.fail(c, err)
	}

	res, err := h.catalog.Search(c.Request().Context(), q.Query, q.Page)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// syncMovie copies a catalog title into local storage so it can be
// referenced by watchlist and history entries.
func (h *Handler) syncMovie(c echo.Context) error {
	var req syncMovieRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}
	mediaType := req.MediaType
	if mediaType == "" {
		mediaType = repository.MediaTypeMovie
	}

	title, err := h.catalog.Details(c.Request().Context(), mediaType, req.TMDBID)
	if err != nil {
		return h.fail(c, err)
	}

	movie := toLocalMovie(title)
	if err := h.movies.UpsertMovie(c.Request().Context(), movie); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, toMovieResponse(*movie))
}

func toLocalMovie(t *catalog.Title) *repository.GormMovie {
	return &repository.GormMovie{
		TMDBID:      t.TMDBID,
		Title:       t.Title,
		PosterPath:  t.PosterPath,
		ReleaseDate: t.ReleaseDate,
		VoteAverage: t.VoteAverage,
		MediaType:   t.MediaType,
	}
}
