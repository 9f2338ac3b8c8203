package handler

import (
	"net/http"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/analytics"
	"github.com/abdusco/qrlinks/internal/auth"
	"github.com/labstack/echo/v4"
)

type AnalyticsHandler struct {
	analytics *analytics.Service
}

func NewAnalyticsHandler(svc *analytics.Service) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: svc}
}

// Traffic handles GET /api/analytics/traffic. Without keyword or short_url
// the report covers every link of the caller.
func (h *AnalyticsHandler) Traffic(c echo.Context) error {
	tf, err := analytics.ParseTimeframe(c.QueryParam("timeframe"))
	if err != nil {
		return err
	}

	scope := analytics.Scope{OwnerID: auth.UserID(c), Keyword: c.QueryParam("keyword")}
	if scope.Keyword == "" {
		if shortURL := c.QueryParam("short_url"); shortURL != "" {
			scope.Keyword = internal.KeywordFromShortURL(shortURL)
			if scope.Keyword == "" {
				return internal.Validation("short_url has no keyword")
			}
		}
	}

	stats, err := h.analytics.TrafficStats(c.Request().Context(), scope, tf)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *AnalyticsHandler) LinkDetails(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	details, err := h.analytics.LinkDetails(c.Request().Context(), auth.UserID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, details)
}
