// Package handler serves the HTTP JSON API.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/watchlist-kata/movietracker/internal/catalog"
	"github.com/watchlist-kata/movietracker/internal/events"
	"github.com/watchlist-kata/movietracker/internal/health"
	"github.com/watchlist-kata/movietracker/internal/metrics"
	"github.com/watchlist-kata/movietracker/internal/ratelimit"
	"github.com/watchlist-kata/movietracker/internal/repository"
)

// Deps are the collaborators of Handler. Metrics is optional.
type Deps struct {
	Watchlist repository.WatchlistRepository
	History   repository.WatchHistoryRepository
	Movies    repository.MovieRepository
	Catalog   catalog.Catalog
	Limiter   *ratelimit.Limiter
	Publisher events.Publisher
	Health    *health.Aggregator
	Auth      Authenticator
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Handler holds the route handlers.
type Handler struct {
	watchlist repository.WatchlistRepository
	history   repository.WatchHistoryRepository
	movies    repository.MovieRepository
	catalog   catalog.Catalog
	limiter   *ratelimit.Limiter
	publisher events.Publisher
	health    *health.Aggregator
	auth      Authenticator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(d Deps) *Handler {
	return &Handler{
		watchlist: d.Watchlist,
		history:   d.History,
		movies:    d.Movies,
		catalog:   d.Catalog,
		limiter:   d.Limiter,
		publisher: d.Publisher,
		health:    d.Health,
		auth:      d.Auth,
		metrics:   d.Metrics,
		logger:    d.Logger,
	}
}

// NewEcho builds an echo instance with the shared middleware and all routes.
func (h *Handler) NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = h.httpErrorHandler

	e.Use(requestID())
	if h.metrics != nil {
		e.Use(h.metrics.Middleware())
		e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
	}
	e.Use(h.requestLogger())
	e.Use(h.recoverer())

	h.Register(e)
	return e
}

// Register mounts the routes on e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.healthCheck)
	e.HEAD("/health", h.healthCheck)
	for _, name := range h.health.Names() {
		e.GET("/health/"+name, h.singleHealthCheck(name))
		e.HEAD("/health/"+name, h.singleHealthCheck(name))
	}

	api := e.Group("/api", h.requireAuth)

	wl := api.Group("/watchlist")
	wl.GET("", h.listWatchlist)
	wl.GET("/stats", h.watchlistStats)
	wl.GET("/status/:movieId", h.watchlistStatus)
	wl.PUT("/reorder", h.reorderWatchlist)
	wl.PUT("/bulk-priority", h.bulkUpdatePriority)
	wl.GET("/:id", h.getWatchlistEntry)
	wl.POST("", h.addToWatchlist)
	wl.PUT("/:id", h.updateWatchlistPriority)
	wl.DELETE("/:id", h.removeFromWatchlist)

	wh := api.Group("/watch-history")
	wh.GET("", h.listWatchHistory)
	wh.GET("/stats", h.watchHistoryStats)
	wh.GET("/:id", h.getWatchHistoryEntry)
	wh.POST("", h.addWatchHistory)
	wh.PUT("/:id", h.updateWatchHistory)
	wh.DELETE("/:id", h.removeWatchHistory)

	mv := api.Group("/movies")
	mv.GET("/search", h.searchMovies)
	mv.POST("/sync", h.syncMovie)

	api.POST("/analytics/events", h.trackEvent)
}

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// errInvalidInput marks request parsing and validation failures.
var errInvalidInput = errors.New("invalid input")

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}

// reason strips the sentinel prefix so clients see only the explanation.
func reason(err, sentinel error) string {
	msg := err.Error()
	if trimmed, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return trimmed
	}
	return msg
}

// statusFor maps an error to an HTTP status and the message safe to return.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errInvalidInput):
		return http.StatusBadRequest, reason(err, errInvalidInput)
	case errors.Is(err, repository.ErrValidation):
		return http.StatusBadRequest, reason(err, repository.ErrValidation)
	case errors.Is(err, repository.ErrDuplicateEntry):
		return http.StatusBadRequest, "entry already exists"
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden, "access to this entry is forbidden"
	case errors.Is(err, repository.ErrRecordNotFound), errors.Is(err, catalog.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, catalog.ErrUpstream):
		return http.StatusBadGateway, "media catalog is unavailable"
	case errors.Is(err, context.Canceled):
		return 499, "request canceled"
	}
	return http.StatusInternalServerError, "internal server error"
}

// fail writes the JSON error for err. Unexpected errors are logged with the
// request id and never shown to the client.
func (h *Handler) fail(c echo.Context, err error) error {
	status, msg := statusFor(err)
	ctx := c.Request().Context()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, fmt.Sprintf("%s %s failed", c.Request().Method, c.Path()),
			slog.String("request_id", requestIDFrom(c)), slog.Any("error", err))
	} else {
		h.logger.DebugContext(ctx, fmt.Sprintf("%s %s rejected: %s", c.Request().Method, c.Path(), msg),
			slog.String("request_id", requestIDFrom(c)))
	}
	return c.JSON(status, errorResponse{Error: msg})
}

// httpErrorHandler renders errors that escape handlers, like unknown routes.
func (h *Handler) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, errorResponse{Error: msg})
		return
	}
	_ = h.fail(c, err)
}

// bind decodes the request into req and validates it.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return invalidInput("malformed request: %v", he.Message)
		}
		return invalidInput("malformed request")
	}
	return c.Validate(req)
}

// pathID parses a positive integer path parameter.
func pathID(c echo.Context, name string) (uint, error) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, invalidInput("%s must be a positive integer", name)
	}
	return uint(id), nil
}
