// Package shortener talks to the YOURLS API that owns the short links.
package shortener

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/metrics"
	"github.com/rs/zerolog/log"
)

const (
	apiPath      = "/yourls-api.php"
	maxBodyBytes = 1 << 20
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// flexInt accepts both 200 and "200"; YOURLS is not consistent about it.
type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid number %s: %w", b, err)
	}
	*n = flexInt(v)
	return nil
}

type apiResponse struct {
	Status     string  `json:"status"`
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Error      string  `json:"error"`
	StatusCode flexInt `json:"statusCode"`
	ShortURL   string  `json:"shorturl"`
	Link       *struct {
		ShortURL string  `json:"shorturl"`
		URL      string  `json:"url"`
		Title    string  `json:"title"`
		Clicks   flexInt `json:"clicks"`
	} `json:"link"`
}

func (r apiResponse) errorMessage() string {
	for _, s := range []string{r.Message, r.Error, r.Code} {
		if s != "" {
			return s
		}
	}
	return "unknown error"
}

// LinkStats is what the shortener itself knows about a link.
type LinkStats struct {
	ShortURL string `json:"short_url"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	Clicks   int    `json:"clicks"`
}

// Shorten creates (or returns the existing) short URL for longURL.
func (c *Client) Shorten(ctx context.Context, longURL string) (string, error) {
	resp, status, err := c.call(ctx, "shorturl", url.Values{"url": {longURL}})
	if err != nil {
		return "", err
	}

	// YOURLS answers an already shortened URL with status "fail" and the
	// existing short URL, which is as good as a fresh one here.
	if resp.ShortURL != "" {
		log.Debug().Str("url", longURL).Str("short_url", resp.ShortURL).Int("status", status).Msg("url shortened")
		return resp.ShortURL, nil
	}

	metrics.UpstreamErrors.WithLabelValues("shorturl").Inc()
	return "", internal.Upstream("shortener returned no short url: "+resp.errorMessage(), nil)
}

// Update points the short link identified by keyword at longURL.
func (c *Client) Update(ctx context.Context, keyword, longURL string) error {
	resp, status, err := c.call(ctx, "update", url.Values{"shorturl": {keyword}, "url": {longURL}})
	if err != nil {
		return err
	}

	ok := resp.Status == "success" || resp.StatusCode == http.StatusOK ||
		(resp.Error == "" && resp.Status != "fail" && status < http.StatusBadRequest)
	if !ok {
		metrics.UpstreamErrors.WithLabelValues("update").Inc()
		return internal.Upstream("failed to update short link: "+resp.errorMessage(), nil)
	}
	return nil
}

func (c *Client) Stats(ctx context.Context, keyword string) (*LinkStats, error) {
	resp, _, err := c.call(ctx, "url-stats", url.Values{"shorturl": {keyword}})
	if err != nil {
		return nil, err
	}
	if resp.Link == nil {
		metrics.UpstreamErrors.WithLabelValues("url-stats").Inc()
		return nil, internal.Upstream("shortener returned no stats: "+resp.errorMessage(), nil)
	}

	return &LinkStats{
		ShortURL: resp.Link.ShortURL,
		URL:      resp.Link.URL,
		Title:    resp.Link.Title,
		Clicks:   int(resp.Link.Clicks),
	}, nil
}

// call performs one API action. Non-2xx answers with a decodable body are
// returned to the caller, which knows which failures are acceptable.
func (c *Client) call(ctx context.Context, action string, params url.Values) (*apiResponse, int, error) {
	params.Set("action", action)
	params.Set("format", "json")
	params.Set("signature", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, 0, internal.Upstream("failed to build shortener request", err)
	}

	res, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(action).Inc()
		log.Error().Err(err).Str("action", action).Msg("shortener unreachable")
		return nil, 0, internal.Upstream("link shortening service unreachable", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(action).Inc()
		return nil, res.StatusCode, internal.Upstream("failed to read shortener response", err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.UpstreamErrors.WithLabelValues(action).Inc()
		log.Error().Err(err).Str("action", action).Int("status", res.StatusCode).Msg("undecodable shortener response")
		return nil, res.StatusCode, internal.Upstream(fmt.Sprintf("unexpected shortener response (HTTP %d)", res.StatusCode), err)
	}

	if res.StatusCode >= http.StatusInternalServerError {
		metrics.UpstreamErrors.WithLabelValues(action).Inc()
		return nil, res.StatusCode, internal.Upstream(fmt.Sprintf("shortener failed with HTTP %d: %s", res.StatusCode, resp.errorMessage()), nil)
	}

	return &resp, res.StatusCode, nil
}
