package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	ctxKeyRequestID = "request_id"
	ctxKeyUserID    = "user_id"
)

// requestID reuses the caller's X-Request-ID or generates one.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(echo.HeaderXRequestID)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			c.Set(ctxKeyRequestID, id)
			c.Response().Header().Set(echo.HeaderXRequestID, id)
			return next(c)
		}
	}
}

func requestIDFrom(c echo.Context) string {
	id, _ := c.Get(ctxKeyRequestID).(string)
	return id
}

func (h *Handler) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			h.logger.DebugContext(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
				slog.Int("status", c.Response().Status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", requestIDFrom(c)),
				slog.String("remote_ip", c.RealIP()))
			return err
		}
	}
}

// recoverer turns a panic into a generic 500.
func (h *Handler) recoverer() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					h.logger.ErrorContext(c.Request().Context(), fmt.Sprintf("panic serving %s", c.Path()),
						slog.Any("panic", r),
						slog.String("request_id", requestIDFrom(c)),
						slog.String("stack", string(debug.Stack())))
					err = c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
				}
			}()
			return next(c)
		}
	}
}

// requireAuth resolves the principal or answers 401.
func (h *Handler) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := h.auth.UserID(c)
		if err != nil || userID == 0 {
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: "authentication required"})
		}
		c.Set(ctxKeyUserID, userID)
		return next(c)
	}
}

func userIDFrom(c echo.Context) uint {
	id, _ := c.Get(ctxKeyUserID).(uint)
	return id
}
