// Package quota gates qr code creation by the ceiling of the user's plan and
// keeps the lifetime and monthly usage counters.
//
// The monthly counter is reset lazily: whenever a user's quota is looked at
// and at least one calendar month has passed since the last reset, the reset
// is persisted before anything else is evaluated. The ceiling is always
// compared against the lifetime counter.
package quota

import (
	"context"
	"errors"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/abdusco/qrlinks/internal/metrics"
	"github.com/rs/zerolog/log"
)

type Store interface {
	Get(ctx context.Context, userID int64) (*internal.UserQuota, error)
	ResetMonthly(ctx context.Context, userID int64, previous, now time.Time) (bool, error)
	IncrementAndRecord(ctx context.Context, userID int64, ceiling int, link *internal.ShortLink) (*internal.UserQuota, error)
}

type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// MonthsBetween counts calendar month boundaries from from to to, in UTC.
func MonthsBetween(from, to time.Time) int {
	from, to = from.UTC(), to.UTC()
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

// ResetDue reports whether a counter last reset at lastReset must be reset at now.
func ResetDue(lastReset, now time.Time) bool {
	return MonthsBetween(lastReset, now) >= 1
}

// Usage returns the user's quota with the monthly reset applied.
func (t *Tracker) Usage(ctx context.Context, userID int64) (*internal.UserQuota, error) {
	q, err := t.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return t.applyMonthlyReset(ctx, q)
}

// Check decides whether userID may create one more qr code. It must be called
// before any upstream work; the returned quota is the input of Commit.
func (t *Tracker) Check(ctx context.Context, userID int64) (*internal.UserQuota, error) {
	q, err := t.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if q.Plan == nil {
		metrics.QuotaRejections.WithLabelValues(internal.ErrNoSubscription.Code).Inc()
		return nil, internal.ErrNoSubscription
	}

	q, err = t.applyMonthlyReset(ctx, q)
	if err != nil {
		return nil, err
	}

	if atLimit(q) {
		metrics.QuotaRejections.WithLabelValues(internal.ErrLimitExceeded.Code).Inc()
		log.Info().
			Int64("user_id", q.UserID).
			Int("count", q.TotalQRCount).
			Int("max", q.Plan.MaxQRCodes).
			Msg("qr code limit reached")
		return nil, internal.LimitExceeded(q.TotalQRCount, q.Plan.MaxQRCodes, q.Plan.DisplayName)
	}

	return q, nil
}

// Commit consumes one unit of quota and stores link, atomically. A concurrent
// request that consumed the last unit first makes this fail with a limit error.
func (t *Tracker) Commit(ctx context.Context, q *internal.UserQuota, link *internal.ShortLink) (*internal.UserQuota, error) {
	if q.Plan == nil {
		return nil, internal.ErrNoSubscription
	}

	updated, err := t.store.IncrementAndRecord(ctx, q.UserID, q.Plan.MaxQRCodes, link)
	if errors.Is(err, internal.ErrLimitExceeded) {
		metrics.QuotaRejections.WithLabelValues(internal.ErrLimitExceeded.Code).Inc()
		current := q.Plan.MaxQRCodes
		if fresh, gerr := t.store.Get(ctx, q.UserID); gerr == nil {
			current = fresh.TotalQRCount
		}
		return nil, internal.LimitExceeded(current, q.Plan.MaxQRCodes, q.Plan.DisplayName)
	}
	if err != nil {
		return nil, err
	}

	metrics.LinksCreated.Inc()
	return updated, nil
}

func (t *Tracker) applyMonthlyReset(ctx context.Context, q *internal.UserQuota) (*internal.UserQuota, error) {
	now := t.now()
	if !ResetDue(q.LastMonthReset, now) {
		return q, nil
	}

	applied, err := t.store.ResetMonthly(ctx, q.UserID, q.LastMonthReset, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// someone else reset it in between
		return t.store.Get(ctx, q.UserID)
	}

	log.Info().
		Int64("user_id", q.UserID).
		Int("monthly_count", q.MonthlyQRCount).
		Time("last_reset", q.LastMonthReset).
		Msg("monthly qr counter reset")
	metrics.MonthlyResets.Inc()

	reset := *q
	reset.MonthlyQRCount = 0
	reset.LastMonthReset = now.UTC().Truncate(time.Second)
	return &reset, nil
}

func atLimit(q *internal.UserQuota) bool {
	if q.Plan.Unlimited() {
		return false
	}
	return q.TotalQRCount >= q.Plan.MaxQRCodes
}
