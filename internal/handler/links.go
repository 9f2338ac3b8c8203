package handler

import (
	"net/http"
	"strconv"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/auth"
	"github.com/abdusco/qrlinks/internal/links"
	"github.com/abdusco/qrlinks/internal/quota"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

type LinkHandler struct {
	links *links.Service
	quota *quota.Tracker
}

func NewLinkHandler(links *links.Service, quota *quota.Tracker) *LinkHandler {
	return &LinkHandler{links: links, quota: quota}
}

type CreateLinkRequest struct {
	URL string `json:"url"`
}

type UpdateLinkRequest struct {
	URL string `json:"url"`
}

type AttachQRRequest struct {
	QRSVG string `json:"qr_svg"`
}

type LinkResponse struct {
	ID          int64  `json:"id"`
	ShortURL    string `json:"short_url"`
	OriginalURL string `json:"original_url"`
	Keyword     string `json:"keyword"`
	Correlativo string `json:"correlativo,omitempty"`
	QRSVG       string `json:"qr_svg,omitempty"`
	CreatedAt   any    `json:"created_at"`
}

type UsageResponse struct {
	Plan           *internal.Plan `json:"plan"`
	TotalQRCount   int            `json:"total_qr_count"`
	MonthlyQRCount int            `json:"monthly_qr_count"`
	LastMonthReset any            `json:"last_month_reset"`
	Remaining      int            `json:"remaining"`
}

// API Response wrappers
type CreateLinkResponse struct {
	Link  LinkResponse  `json:"link"`
	Usage UsageResponse `json:"usage"`
}

type ListLinksResponse struct {
	Links []LinkResponse `json:"links"`
}

func toLinkResponse(link internal.ShortLink) LinkResponse {
	return LinkResponse{
		ID:          link.ID,
		ShortURL:    link.ShortURL,
		OriginalURL: link.OriginalURL,
		Keyword:     link.Keyword(),
		Correlativo: link.Correlativo,
		QRSVG:       link.QRSVG,
		CreatedAt:   link.CreatedAt,
	}
}

func toUsageResponse(q internal.UserQuota) UsageResponse {
	return UsageResponse{
		Plan:           q.Plan,
		TotalQRCount:   q.TotalQRCount,
		MonthlyQRCount: q.MonthlyQRCount,
		LastMonthReset: q.LastMonthReset,
		Remaining:      q.Remaining(),
	}
}

func (h *LinkHandler) CreateLink(c echo.Context) error {
	var req CreateLinkRequest
	if err := c.Bind(&req); err != nil {
		return internal.Validation("invalid request")
	}

	res, err := h.links.Create(c.Request().Context(), auth.UserID(c), req.URL)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, CreateLinkResponse{
		Link:  toLinkResponse(res.Link),
		Usage: toUsageResponse(res.Usage),
	})
}

func (h *LinkHandler) ListLinks(c echo.Context) error {
	history, err := h.links.History(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ListLinksResponse{Links: lo.Map(history, func(link internal.ShortLink, _ int) LinkResponse {
		return toLinkResponse(link)
	})})
}

func (h *LinkHandler) UpdateLink(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req UpdateLinkRequest
	if err := c.Bind(&req); err != nil {
		return internal.Validation("invalid request")
	}

	link, err := h.links.UpdateURL(c.Request().Context(), auth.UserID(c), id, req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"link": toLinkResponse(*link)})
}

func (h *LinkHandler) AttachQR(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req AttachQRRequest
	if err := c.Bind(&req); err != nil {
		return internal.Validation("invalid request")
	}

	if err := h.links.AttachQR(c.Request().Context(), auth.UserID(c), id, req.QRSVG); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *LinkHandler) QRCode(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	size := 0
	if raw := c.QueryParam("size"); raw != "" {
		if size, err = strconv.Atoi(raw); err != nil {
			return internal.Validation("size must be an integer")
		}
	}

	png, _, err := h.links.QRCodePNG(c.Request().Context(), auth.UserID(c), id, size)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func (h *LinkHandler) UpstreamStats(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}

	stats, err := h.links.UpstreamStats(c.Request().Context(), auth.UserID(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"stats": stats})
}

// Me handles GET /api/me, the caller's plan and usage.
func (h *LinkHandler) Me(c echo.Context) error {
	q, err := h.quota.Usage(c.Request().Context(), auth.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id":     q.UserID,
		"email":       q.Email,
		"correlativo": q.Correlativo,
		"usage":       toUsageResponse(*q),
	})
}
