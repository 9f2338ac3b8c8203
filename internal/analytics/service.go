package analytics

import (
	"context"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// RecentClicksLimit caps the click list of a link details report.
const RecentClicksLimit = 100

type ClickSource interface {
	ListForKeywords(ctx context.Context, keywords []string, since *time.Time) ([]internal.ClickEvent, error)
	Recent(ctx context.Context, keyword string, limit int) ([]internal.ClickEvent, error)
}

type LinkSource interface {
	KeywordsByOwner(ctx context.Context, userID int64) ([]string, error)
	GetForOwner(ctx context.Context, userID, id int64) (*internal.ShortLink, error)
	GetByKeywordForOwner(ctx context.Context, userID int64, keyword string) (*internal.ShortLink, error)
}

// Scope selects the clicks of a report: every link of OwnerID, or only the
// link with Keyword when it is set.
type Scope struct {
	OwnerID int64
	Keyword string
}

type Service struct {
	clicks ClickSource
	links  LinkSource
	now    func() time.Time
}

func NewService(clicks ClickSource, links LinkSource) *Service {
	return &Service{clicks: clicks, links: links, now: time.Now}
}

func (s *Service) TrafficStats(ctx context.Context, scope Scope, tf Timeframe) (*Stats, error) {
	started := time.Now()
	defer func() {
		metrics.AggregationDuration.Observe(time.Since(started).Seconds())
	}()

	keywords, err := s.resolveScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if len(keywords) == 0 {
		stats := EmptyStats()
		stats.Timeframe = tf
		stats.GeneratedAt = now
		return &stats, nil
	}

	events, err := s.clicks.ListForKeywords(ctx, keywords, tf.Since(now))
	if err != nil {
		log.Error().Err(err).Int64("user_id", scope.OwnerID).Str("keyword", scope.Keyword).Msg("failed to load clicks")
		return nil, internal.ErrAggregation.Wrap(err)
	}

	stats := Aggregate(events)
	stats.Timeframe = tf
	stats.GeneratedAt = now

	log.Debug().
		Int64("user_id", scope.OwnerID).
		Int("keywords", len(keywords)).
		Int("clicks", stats.TotalClicks).
		Msg("traffic stats computed")

	return &stats, nil
}

func (s *Service) resolveScope(ctx context.Context, scope Scope) ([]string, error) {
	if scope.OwnerID == 0 {
		return nil, internal.Validation("scope requires an owner")
	}

	if scope.Keyword != "" {
		link, err := s.links.GetByKeywordForOwner(ctx, scope.OwnerID, scope.Keyword)
		if err != nil {
			return nil, scopeError(err)
		}
		return []string{link.Keyword()}, nil
	}

	keywords, err := s.links.KeywordsByOwner(ctx, scope.OwnerID)
	if err != nil {
		return nil, scopeError(err)
	}
	return keywords, nil
}

func scopeError(err error) error {
	if internal.KindOf(err) == internal.KindNotFound {
		return err
	}
	return internal.ErrAggregation.Wrap(err)
}

type RecentClick struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	Country   string    `json:"country"`
	Referrer  string    `json:"referrer"`
	UserAgent string    `json:"user_agent"`
}

type LinkSummary struct {
	TotalClicks    int            `json:"total_clicks"`
	UniqueVisitors int            `json:"unique_visitors"`
	TopCountries   []LocationStat `json:"top_countries"`
}

type LinkDetails struct {
	Link         internal.ShortLink `json:"link"`
	Stats        LinkSummary        `json:"stats"`
	RecentClicks []RecentClick      `json:"recent_clicks"`
	GeneratedAt  time.Time          `json:"timestamp"`
}

// LinkDetails reports on a single link owned by ownerID over its whole life.
func (s *Service) LinkDetails(ctx context.Context, ownerID, linkID int64) (*LinkDetails, error) {
	link, err := s.links.GetForOwner(ctx, ownerID, linkID)
	if err != nil {
		return nil, scopeError(err)
	}
	keyword := link.Keyword()
	link.QRSVG = ""

	events, err := s.clicks.ListForKeywords(ctx, []string{keyword}, nil)
	if err != nil {
		return nil, internal.ErrAggregation.Wrap(err)
	}
	recent, err := s.clicks.Recent(ctx, keyword, RecentClicksLimit)
	if err != nil {
		return nil, internal.ErrAggregation.Wrap(err)
	}

	agg := Aggregate(events)
	return &LinkDetails{
		Link: *link,
		Stats: LinkSummary{
			TotalClicks:    agg.TotalClicks,
			UniqueVisitors: agg.UniqueVisitors,
			TopCountries:   agg.LocationStats,
		},
		RecentClicks: lo.Map(recent, func(e internal.ClickEvent, _ int) RecentClick {
			return RecentClick{
				ID:        e.ID,
				Timestamp: e.ClickedAt,
				IP:        e.IPAddress,
				Country:   e.CountryCode,
				Referrer:  CategorizeReferrer(e.Referrer),
				UserAgent: e.UserAgent,
			}
		}),
		GeneratedAt: s.now(),
	}, nil
}
