package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/watchlist-kata/movietracker/internal/health"
)

func httpStatusFor(s health.Status) int {
	if s == health.StatusDown {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func queryFlag(c echo.Context, name string) bool {
	v, err := strconv.ParseBool(c.QueryParam(name))
	return err == nil && v
}

// healthCheck serves the aggregate status. ?simple=true answers OK or NOT OK
// in plain text, ?detailed=true keeps per-check details.
func (h *Handler) healthCheck(c echo.Context) error {
	report := h.health.Run(c.Request().Context())
	code := httpStatusFor(report.Status)

	switch {
	case c.Request().Method == http.MethodHead:
		return c.NoContent(code)
	case queryFlag(c, "simple"):
		if report.Status == health.StatusDown {
			return c.String(code, "NOT OK")
		}
		return c.String(code, "OK")
	case queryFlag(c, "detailed"):
		return c.JSON(code, report)
	}
	return c.JSON(code, report.WithoutDetails())
}

func (h *Handler) singleHealthCheck(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, ok := h.health.RunOne(c.Request().Context(), name)
		if !ok {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown health check"})
		}
		code := httpStatusFor(res.Status)
		if c.Request().Method == http.MethodHead {
			return c.NoContent(code)
		}
		return c.JSON(code, res)
	}
}
