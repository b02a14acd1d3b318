package handler

import (
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/watchlist-kata/movietracker/internal/events"
)

type trackEventRequest struct {
	Name       string         `json:"name" validate:"required,max=100"`
	Properties map[string]any `json:"properties" validate:"max=50"`
}

type trackEventResponse struct {
	ID string `json:"id"`
}

// trackEvent accepts a client analytics event. Requests are limited per user.
func (h *Handler) trackEvent(c echo.Context) error {
	ctx := c.Request().Context()
	userID := userIDFrom(c)

	decision, err := h.limiter.Allow(ctx, fmt.Sprintf("analytics:user:%d", userID))
	if err != nil {
		// fail open while the limiter store is unavailable
		h.logger.WarnContext(ctx, "rate limiter unavailable", slog.Any("error", err))
	} else {
		header := c.Response().Header()
		header.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		header.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		header.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			if h.metrics != nil {
				h.metrics.RateLimited()
			}
			retryAfter := int(math.Ceil(time.Until(decision.ResetAt).Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			header.Set("Retry-After", strconv.Itoa(retryAfter))
			return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "too many requests"})
		}
	}

	var req trackEventRequest
	if err := bind(c, &req); err != nil {
		return h.fail(c, err)
	}

	event := events.Event{
		ID:         uuid.NewString(),
		Name:       req.Name,
		UserID:     userID,
		Properties: req.Properties,
		OccurredAt: time.Now().UTC(),
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		if h.metrics != nil {
			h.metrics.EventFailed()
		}
		return h.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, trackEventResponse{ID: event.ID})
}
