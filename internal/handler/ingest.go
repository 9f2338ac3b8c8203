package handler

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const ingestTokenHeader = "X-Ingest-Token"

type ClickRecorder interface {
	Create(ctx context.Context, click *internal.ClickEvent) error
}

type CountryResolver interface {
	Country(ip string) string
}

// IngestHandler receives click events forwarded by the shortener.
type IngestHandler struct {
	clicks ClickRecorder
	geo    CountryResolver
	token  string
}

func NewIngestHandler(clicks ClickRecorder, geo CountryResolver, token string) *IngestHandler {
	return &IngestHandler{clicks: clicks, geo: geo, token: token}
}

type IngestClickRequest struct {
	Keyword     string    `json:"keyword"`
	ShortURL    string    `json:"short_url"`
	ClickedAt   time.Time `json:"clicked_at"`
	IPAddress   string    `json:"ip_address"`
	CountryCode string    `json:"country_code"`
	Referrer    string    `json:"referrer"`
	UserAgent   string    `json:"user_agent"`
}

func (h *IngestHandler) RequireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		given := c.Request().Header.Get(ingestTokenHeader)
		if h.token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(h.token)) != 1 {
			return echo.ErrUnauthorized
		}
		return next(c)
	}
}

func (h *IngestHandler) IngestClick(c echo.Context) error {
	var req IngestClickRequest
	if err := c.Bind(&req); err != nil {
		return internal.Validation("invalid request")
	}

	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		keyword = internal.KeywordFromShortURL(req.ShortURL)
	}
	if keyword == "" {
		return internal.Validation("keyword or short_url is required")
	}

	click := &internal.ClickEvent{
		Keyword:     keyword,
		ClickedAt:   req.ClickedAt,
		IPAddress:   strings.TrimSpace(req.IPAddress),
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		Referrer:    strings.TrimSpace(req.Referrer),
		UserAgent:   req.UserAgent,
	}
	if click.CountryCode == "" && click.IPAddress != "" && h.geo != nil {
		click.CountryCode = h.geo.Country(click.IPAddress)
	}

	if err := h.clicks.Create(c.Request().Context(), click); err != nil {
		return err
	}
	metrics.ClicksIngested.Inc()

	log.Debug().Str("keyword", keyword).Str("country", click.CountryCode).Msg("click ingested")
	return c.JSON(http.StatusCreated, map[string]any{"id": click.ID})
}
