package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/auth"
	"github.com/abdusco/qrlinks/internal/links"
	"github.com/abdusco/qrlinks/internal/quota"
	"github.com/abdusco/qrlinks/internal/shortener"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID int64 = 7

type stubShortener struct{}

func (stubShortener) Shorten(_ context.Context, _ string) (string, error) {
	return "https://qr-me.xyz/new", nil
}

func (stubShortener) Update(_ context.Context, _, _ string) error { return nil }

func (stubShortener) Stats(_ context.Context, keyword string) (*shortener.LinkStats, error) {
	return &shortener.LinkStats{ShortURL: "https://qr-me.xyz/" + keyword}, nil
}

// memStore backs both the quota tracker and the link/analytics services.
type memStore struct {
	quota internal.UserQuota
	links []internal.ShortLink
}

func newMemStore() *memStore {
	return &memStore{
		quota: internal.UserQuota{
			UserID:         testUserID,
			Email:          "ana@example.com",
			Correlativo:    "ana",
			TotalQRCount:   1,
			MonthlyQRCount: 1,
			LastMonthReset: time.Now().UTC(),
			Plan:           &internal.Plan{ID: 1, Name: "free", DisplayName: "Free plan", MaxQRCodes: 10},
		},
		links: []internal.ShortLink{
			{ID: 1, UserID: testUserID, OriginalURL: "https://example.com", ShortURL: "https://qr-me.xyz/abc"},
			{ID: 2, UserID: 8, OriginalURL: "https://example.org", ShortURL: "https://qr-me.xyz/xyz"},
		},
	}
}

func (m *memStore) Get(_ context.Context, userID int64) (*internal.UserQuota, error) {
	if userID != m.quota.UserID {
		return nil, internal.ErrUserNotFound
	}
	q := m.quota
	return &q, nil
}

func (m *memStore) ResetMonthly(_ context.Context, _ int64, _, now time.Time) (bool, error) {
	m.quota.MonthlyQRCount = 0
	m.quota.LastMonthReset = now
	return true, nil
}

func (m *memStore) IncrementAndRecord(_ context.Context, userID int64, ceiling int, link *internal.ShortLink) (*internal.UserQuota, error) {
	if ceiling != internal.Unlimited && m.quota.TotalQRCount >= ceiling {
		return nil, internal.ErrLimitExceeded
	}
	m.quota.TotalQRCount++
	m.quota.MonthlyQRCount++
	link.ID = int64(len(m.links) + 1)
	m.links = append(m.links, *link)
	return m.Get(context.Background(), userID)
}

func (m *memStore) ListByOwner(_ context.Context, userID int64) ([]internal.ShortLink, error) {
	var out []internal.ShortLink
	for _, l := range m.links {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) GetForOwner(_ context.Context, userID, id int64) (*internal.ShortLink, error) {
	for _, l := range m.links {
		if l.ID == id && l.UserID == userID {
			return &l, nil
		}
	}
	return nil, internal.ErrLinkNotFound
}

func (m *memStore) GetByKeywordForOwner(_ context.Context, userID int64, keyword string) (*internal.ShortLink, error) {
	for _, l := range m.links {
		if l.Keyword() == keyword && l.UserID == userID {
			return &l, nil
		}
	}
	return nil, internal.ErrLinkNotFound
}

func (m *memStore) KeywordsByOwner(ctx context.Context, userID int64) ([]string, error) {
	owned, _ := m.ListByOwner(ctx, userID)
	keywords := make([]string, 0, len(owned))
	for _, l := range owned {
		keywords = append(keywords, l.Keyword())
	}
	return keywords, nil
}

func (m *memStore) UpdateOriginalURL(_ context.Context, _, _ int64, _ string) error { return nil }

func (m *memStore) UpdateQR(_ context.Context, _, _ int64, _ string) error { return nil }

type discardReconciler struct{}

func (discardReconciler) Record(_ context.Context, _ *internal.ReconciliationRecord) error {
	return nil
}

func asUser(id int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth.SetUserID(c, id)
			return next(c)
		}
	}
}

func newLinkEcho(store *memStore) *echo.Echo {
	tracker := quota.NewTracker(store)
	h := NewLinkHandler(links.NewService(tracker, stubShortener{}, store, discardReconciler{}), tracker)

	e := newTestEcho()
	api := e.Group("/api", asUser(testUserID))
	api.GET("/me", h.Me)
	api.POST("/links", h.CreateLink)
	api.GET("/links/:id/qr.png", h.QRCode)
	return e
}

func serve(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreateLink(t *testing.T) {
	store := newMemStore()
	e := newLinkEcho(store)

	t.Run("malformed body", func(t *testing.T) {
		rec := serve(e, http.MethodPost, "/api/links", `{"url":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, map[string]any{"error": "invalid request", "code": "validation_error"}, decode(t, rec))
		assert.Len(t, store.links, 2)
	})

	t.Run("invalid url", func(t *testing.T) {
		rec := serve(e, http.MethodPost, "/api/links", `{"url":"ftp://example.com"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_error", decode(t, rec)["code"])
	})

	t.Run("created", func(t *testing.T) {
		rec := serve(e, http.MethodPost, "/api/links", `{"url":"https://example.com/landing"}`)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		body := decode(t, rec)
		link := body["link"].(map[string]any)
		assert.Equal(t, "https://qr-me.xyz/new", link["short_url"])
		assert.Equal(t, "new", link["keyword"])
		assert.Equal(t, "ana", link["correlativo"])
		assert.Contains(t, link["qr_svg"], "<svg")

		usage := body["usage"].(map[string]any)
		assert.Equal(t, float64(2), usage["total_qr_count"])
		assert.Equal(t, float64(8), usage["remaining"])
	})
}

func TestQRCode(t *testing.T) {
	e := newLinkEcho(newMemStore())

	tests := []struct {
		name     string
		target   string
		wantCode int
		wantErr  string
	}{
		{name: "non integer size", target: "/api/links/1/qr.png?size=abc", wantCode: http.StatusBadRequest, wantErr: "size must be an integer"},
		{name: "size out of range", target: "/api/links/1/qr.png?size=10", wantCode: http.StatusBadRequest, wantErr: "size must be between 64 and 1024"},
		{name: "bad id", target: "/api/links/zero/qr.png", wantCode: http.StatusBadRequest, wantErr: "id must be a positive integer"},
		{name: "someone else's link", target: "/api/links/2/qr.png", wantCode: http.StatusNotFound, wantErr: "link not found"},
		{name: "default size", target: "/api/links/1/qr.png", wantCode: http.StatusOK},
		{name: "explicit size", target: "/api/links/1/qr.png?size=128", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decode(t, rec)["error"])
				return
			}
			assert.Equal(t, "image/png", rec.Header().Get(echo.HeaderContentType))
			assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
		})
	}
}

func TestMe(t *testing.T) {
	e := newLinkEcho(newMemStore())

	rec := serve(e, http.MethodGet, "/api/me", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, float64(testUserID), body["user_id"])
	assert.Equal(t, "ana@example.com", body["email"])
	assert.Equal(t, "ana", body["correlativo"])

	usage := body["usage"].(map[string]any)
	assert.Equal(t, float64(1), usage["total_qr_count"])
	assert.Equal(t, float64(1), usage["monthly_qr_count"])
	assert.Equal(t, float64(9), usage["remaining"])
	assert.NotEmpty(t, usage["last_month_reset"])
	assert.Equal(t, map[string]any{
		"id":           float64(1),
		"name":         "free",
		"display_name": "Free plan",
		"max_qr_codes": float64(10),
	}, usage["plan"])
}
