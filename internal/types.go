package internal

import (
	"net/url"
	"strings"
	"time"
)

// Unlimited is the plan ceiling that never blocks creation.
const Unlimited = -1

type Plan struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	MaxQRCodes  int    `json:"max_qr_codes"`
}

func (p Plan) Unlimited() bool {
	return p.MaxQRCodes == Unlimited
}

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username,omitempty"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	Correlativo  string    `json:"correlativo"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserQuota is the usage bookkeeping of one user. Plan is nil when the user
// has no active subscription.
type UserQuota struct {
	UserID         int64     `json:"user_id"`
	Email          string    `json:"email"`
	Correlativo    string    `json:"correlativo"`
	TotalQRCount   int       `json:"total_qr_count"`
	MonthlyQRCount int       `json:"monthly_qr_count"`
	LastMonthReset time.Time `json:"last_month_reset"`
	Plan           *Plan     `json:"plan"`
}

// Remaining returns how many more codes the user may create, or -1 when unlimited.
func (q UserQuota) Remaining() int {
	if q.Plan == nil {
		return 0
	}
	if q.Plan.Unlimited() {
		return Unlimited
	}
	return max(q.Plan.MaxQRCodes-q.TotalQRCount, 0)
}

type ShortLink struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	OriginalURL string    `json:"original_url"`
	ShortURL    string    `json:"short_url"`
	Correlativo string    `json:"correlativo,omitempty"`
	QRSVG       string    `json:"qr_svg,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (l ShortLink) Keyword() string {
	return KeywordFromShortURL(l.ShortURL)
}

type ClickEvent struct {
	ID          int64     `json:"id"`
	Keyword     string    `json:"keyword"`
	ClickedAt   time.Time `json:"clicked_at"`
	IPAddress   string    `json:"ip_address"`
	CountryCode string    `json:"country_code"`
	Referrer    string    `json:"referrer"`
	UserAgent   string    `json:"user_agent"`
}

type ReconciliationRecord struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Operation   string    `json:"operation"`
	ShortURL    string    `json:"short_url"`
	OriginalURL string    `json:"original_url"`
	Error       string    `json:"error"`
	CreatedAt   time.Time `json:"created_at"`
}

// KeywordFromShortURL returns the trailing path segment of a short URL,
// ignoring query strings, fragments and trailing slashes. A bare keyword is
// returned unchanged.
func KeywordFromShortURL(shortURL string) string {
	s := strings.TrimSpace(shortURL)
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		s = u.Path
	} else if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}
