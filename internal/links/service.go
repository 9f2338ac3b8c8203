package links

import (
	"context"
	"net/url"
	"strings"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/logger"
	"github.com/abdusco/qrlinks/internal/metrics"
	"github.com/abdusco/qrlinks/internal/qr"
	"github.com/abdusco/qrlinks/internal/shortener"
	"github.com/asaskevich/govalidator"
	"github.com/rs/zerolog"
)

const (
	OperationCreate = "create"
	OperationUpdate = "update"
)

type Shortener interface {
	Shorten(ctx context.Context, longURL string) (string, error)
	Update(ctx context.Context, keyword, longURL string) error
	Stats(ctx context.Context, keyword string) (*shortener.LinkStats, error)
}

type QuotaTracker interface {
	Check(ctx context.Context, userID int64) (*internal.UserQuota, error)
	Commit(ctx context.Context, q *internal.UserQuota, link *internal.ShortLink) (*internal.UserQuota, error)
}

type Store interface {
	ListByOwner(ctx context.Context, userID int64) ([]internal.ShortLink, error)
	GetForOwner(ctx context.Context, userID, id int64) (*internal.ShortLink, error)
	UpdateOriginalURL(ctx context.Context, userID, id int64, originalURL string) error
	UpdateQR(ctx context.Context, userID, id int64, svg string) error
}

type Reconciler interface {
	Record(ctx context.Context, rec *internal.ReconciliationRecord) error
}

type Service struct {
	quota     QuotaTracker
	shortener Shortener
	store     Store
	recon     Reconciler
	log       zerolog.Logger
}

func NewService(quota QuotaTracker, shortener Shortener, store Store, recon Reconciler) *Service {
	return &Service{
		quota:     quota,
		shortener: shortener,
		store:     store,
		recon:     recon,
		log:       logger.With("component", "links"),
	}
}

type CreateResult struct {
	Link  internal.ShortLink `json:"link"`
	Usage internal.UserQuota `json:"usage"`
}

// ValidateURL accepts absolute http(s) URLs and returns them trimmed.
func ValidateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", internal.Validation("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", internal.Validation("url must be an absolute http or https url")
	}
	if !govalidator.IsURL(raw) {
		return "", internal.Validation("url is not valid")
	}
	return raw, nil
}

// Create shortens longURL for userID, renders its qr code and records it,
// consuming one unit of the user's quota.
func (s *Service) Create(ctx context.Context, userID int64, longURL string) (*CreateResult, error) {
	target, err := ValidateURL(longURL)
	if err != nil {
		return nil, err
	}

	q, err := s.quota.Check(ctx, userID)
	if err != nil {
		return nil, err
	}

	shortURL, err := s.shortener.Shorten(ctx, target)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Str("url", target).Msg("shortener rejected url")
		return nil, err
	}
	if internal.KeywordFromShortURL(shortURL) == "" {
		return nil, internal.Upstream("shortener returned an unusable short url: "+shortURL, nil)
	}

	link := &internal.ShortLink{
		UserID:      userID,
		OriginalURL: target,
		ShortURL:    shortURL,
		Correlativo: q.Correlativo,
	}
	if svg, err := qr.SVG(shortURL); err != nil {
		s.log.Warn().Err(err).Str("short_url", shortURL).Msg("failed to render qr code, storing link without it")
	} else {
		link.QRSVG = svg
	}

	usage, err := s.quota.Commit(ctx, q, link)
	if err != nil {
		s.reconcile(ctx, OperationCreate, link, err)
		return nil, err
	}

	s.log.Info().Int64("user_id", userID).Int64("id", link.ID).Str("short_url", shortURL).Msg("link created")
	return &CreateResult{Link: *link, Usage: *usage}, nil
}

func (s *Service) History(ctx context.Context, userID int64) ([]internal.ShortLink, error) {
	return s.store.ListByOwner(ctx, userID)
}

// UpdateURL points an owned link at newURL, upstream first.
func (s *Service) UpdateURL(ctx context.Context, userID, linkID int64, newURL string) (*internal.ShortLink, error) {
	target, err := ValidateURL(newURL)
	if err != nil {
		return nil, err
	}

	link, err := s.store.GetForOwner(ctx, userID, linkID)
	if err != nil {
		return nil, err
	}

	if err := s.shortener.Update(ctx, link.Keyword(), target); err != nil {
		return nil, err
	}

	updated := *link
	updated.OriginalURL = target
	if err := s.store.UpdateOriginalURL(ctx, userID, linkID, target); err != nil {
		s.reconcile(ctx, OperationUpdate, &updated, err)
		return nil, err
	}

	s.log.Info().Int64("user_id", userID).Int64("id", linkID).Str("url", target).Msg("link updated")
	return &updated, nil
}

// AttachQR replaces the stored qr graphic of an owned link.
func (s *Service) AttachQR(ctx context.Context, userID, linkID int64, svg string) error {
	svg = strings.TrimSpace(svg)
	if svg == "" || !strings.Contains(svg, "<svg") {
		return internal.Validation("qr_svg must be an svg document")
	}
	return s.store.UpdateQR(ctx, userID, linkID, svg)
}

// QRCodePNG renders an owned link's short URL as a PNG.
func (s *Service) QRCodePNG(ctx context.Context, userID, linkID int64, size int) ([]byte, *internal.ShortLink, error) {
	if size == 0 {
		size = qr.DefaultSize
	}
	if size < qr.MinSize || size > qr.MaxSize {
		return nil, nil, internal.Validation("size must be between 64 and 1024")
	}

	link, err := s.store.GetForOwner(ctx, userID, linkID)
	if err != nil {
		return nil, nil, err
	}

	png, err := qr.PNG(link.ShortURL, size)
	if err != nil {
		return nil, nil, err
	}
	return png, link, nil
}

func (s *Service) UpstreamStats(ctx context.Context, userID, linkID int64) (*shortener.LinkStats, error) {
	link, err := s.store.GetForOwner(ctx, userID, linkID)
	if err != nil {
		return nil, err
	}
	return s.shortener.Stats(ctx, link.Keyword())
}

// reconcile records an upstream change that could not be persisted locally.
// The request context may already be done, so the write does not inherit its
// cancellation.
func (s *Service) reconcile(ctx context.Context, operation string, link *internal.ShortLink, cause error) {
	metrics.ReconciliationRecords.WithLabelValues(operation).Inc()

	rec := &internal.ReconciliationRecord{
		UserID:      link.UserID,
		Operation:   operation,
		ShortURL:    link.ShortURL,
		OriginalURL: link.OriginalURL,
		Error:       cause.Error(),
	}
	if err := s.recon.Record(context.WithoutCancel(ctx), rec); err != nil {
		s.log.Error().
			Err(err).
			AnErr("cause", cause).
			Int64("user_id", link.UserID).
			Str("operation", operation).
			Str("short_url", link.ShortURL).
			Str("url", link.OriginalURL).
			Msg("failed to write reconciliation record")
	}
}
