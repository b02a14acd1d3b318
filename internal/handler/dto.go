package handler

import (
	"time"

	"github.com/watchlist-kata/movietracker/internal/repository"
)

const dateLayout = "2006-01-02"

type movieResponse struct {
	ID          uint    `json:"id"`
	TMDBID      int64   `json:"tmdbId"`
	Title       string  `json:"title"`
	PosterPath  string  `json:"posterPath,omitempty"`
	ReleaseDate *string `json:"releaseDate,omitempty"`
	VoteAverage float64 `json:"voteAverage"`
	MediaType   string  `json:"mediaType"`
}

func toMovieResponse(m repository.GormMovie) *movieResponse {
	if m.ID == 0 {
		return nil
	}
	out := &movieResponse{
		ID:          m.ID,
		TMDBID:      m.TMDBID,
		Title:       m.Title,
		PosterPath:  m.PosterPath,
		VoteAverage: m.VoteAverage,
		MediaType:   m.MediaType,
	}
	if m.ReleaseDate != nil {
		d := m.ReleaseDate.Format(dateLayout)
		out.ReleaseDate = &d
	}
	return out
}

type watchlistEntryResponse struct {
	ID       uint           `json:"id"`
	UserID   uint           `json:"userId"`
	MovieID  uint           `json:"movieId"`
	Priority string         `json:"priority"`
	Position int            `json:"position"`
	AddedAt  time.Time      `json:"addedAt"`
	Movie    *movieResponse `json:"movie,omitempty"`
}

func toWatchlistEntry(e repository.GormWatchlist) watchlistEntryResponse {
	return watchlistEntryResponse{
		ID:       e.ID,
		UserID:   e.UserID,
		MovieID:  e.MovieID,
		Priority: string(e.Priority),
		Position: e.Position,
		AddedAt:  e.CreatedAt,
		Movie:    toMovieResponse(e.Movie),
	}
}

func toWatchlistEntries(in []repository.GormWatchlist) []watchlistEntryResponse {
	out := make([]watchlistEntryResponse, 0, len(in))
	for _, e := range in {
		out = append(out, toWatchlistEntry(e))
	}
	return out
}

type watchHistoryEntryResponse struct {
	ID           uint           `json:"id"`
	UserID       uint           `json:"userId"`
	MovieID      uint           `json:"movieId"`
	WatchedAt    time.Time      `json:"watchedAt"`
	Rating       *int           `json:"rating"`
	Notes        *string        `json:"notes"`
	RewatchCount int            `json:"rewatchCount"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	Movie        *movieResponse `json:"movie,omitempty"`
}

func toWatchHistoryEntry(e repository.GormWatchHistory) watchHistoryEntryResponse {
	return watchHistoryEntryResponse{
		ID:           e.ID,
		UserID:       e.UserID,
		MovieID:      e.MovieID,
		WatchedAt:    e.WatchedAt,
		Rating:       e.Rating,
		Notes:        e.Notes,
		RewatchCount: e.RewatchCount,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		Movie:        toMovieResponse(e.Movie),
	}
}

type pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

type listResponse[T any] struct {
	Items      []T        `json:"items"`
	Pagination pagination `json:"pagination"`
}

func newListResponse[E, T any](page *repository.Page[E], convert func(E) T) listResponse[T] {
	items := make([]T, 0, len(page.Items))
	for _, e := range page.Items {
		items = append(items, convert(e))
	}
	return listResponse[T]{
		Items: items,
		Pagination: pagination{
			Page:       page.Page,
			Limit:      page.Limit,
			Total:      page.Total,
			TotalPages: page.TotalPages,
		},
	}
}
