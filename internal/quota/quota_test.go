package quota

import (
	"context"
	"testing"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps quotas in memory and mimics the guarded increment.
type memStore struct {
	quotas  map[int64]*internal.UserQuota
	links   []internal.ShortLink
	resets  int
	stolen  bool // next IncrementAndRecord loses the race
	nextErr error
}

func newMemStore(quotas ...internal.UserQuota) *memStore {
	s := &memStore{quotas: map[int64]*internal.UserQuota{}}
	for _, q := range quotas {
		s.quotas[q.UserID] = &q
	}
	return s
}

func (s *memStore) Get(_ context.Context, userID int64) (*internal.UserQuota, error) {
	q, ok := s.quotas[userID]
	if !ok {
		return nil, internal.ErrUserNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *memStore) ResetMonthly(_ context.Context, userID int64, previous, now time.Time) (bool, error) {
	q := s.quotas[userID]
	if !q.LastMonthReset.Equal(previous) {
		return false, nil
	}
	s.resets++
	q.MonthlyQRCount = 0
	q.LastMonthReset = now.UTC().Truncate(time.Second)
	return true, nil
}

func (s *memStore) IncrementAndRecord(_ context.Context, userID int64, ceiling int, link *internal.ShortLink) (*internal.UserQuota, error) {
	if s.nextErr != nil {
		return nil, s.nextErr
	}
	q := s.quotas[userID]
	if s.stolen {
		q.TotalQRCount = ceiling
	}
	if ceiling != internal.Unlimited && q.TotalQRCount >= ceiling {
		return nil, internal.ErrLimitExceeded
	}
	q.TotalQRCount++
	q.MonthlyQRCount++
	link.ID = int64(len(s.links) + 1)
	s.links = append(s.links, *link)
	cp := *q
	return &cp, nil
}

var (
	freePlan      = &internal.Plan{ID: 1, Name: "free", DisplayName: "Free plan", MaxQRCodes: 10}
	unlimitedPlan = &internal.Plan{ID: 3, Name: "enterprise", DisplayName: "Enterprise plan", MaxQRCodes: internal.Unlimited}
	now           = time.Date(2024, 5, 15, 9, 30, 0, 0, time.UTC)
)

func newTestTracker(store Store) *Tracker {
	t := NewTracker(store)
	t.now = func() time.Time { return now }
	return t
}

func TestMonthsBetween(t *testing.T) {
	tests := []struct {
		from, to time.Time
		want     int
	}{
		{time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC), 0},
		{time.Date(2024, 4, 30, 23, 59, 0, 0, time.UTC), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 1},
		{time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 3},
		{time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MonthsBetween(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestResetDue(t *testing.T) {
	assert.False(t, ResetDue(now.AddDate(0, 0, -10), now))
	assert.True(t, ResetDue(now.AddDate(0, -1, 0), now))
	// 22:00 on April 30 in Santiago is already May in UTC
	santiago := time.FixedZone("CLT", -4*3600)
	assert.False(t, ResetDue(time.Date(2024, 4, 30, 22, 0, 0, 0, santiago), time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC)))
}

func TestCheck_UnderLimit(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 3, LastMonthReset: now.AddDate(0, 0, -3), Plan: freePlan})
	tracker := newTestTracker(store)

	q, err := tracker.Check(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 3, q.TotalQRCount)
	assert.Equal(t, 7, q.Remaining())
}

func TestCheck_AtLimit(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 10, MonthlyQRCount: 4, LastMonthReset: now.AddDate(0, 0, -3), Plan: freePlan})
	tracker := newTestTracker(store)

	_, err := tracker.Check(context.Background(), 1)
	require.ErrorIs(t, err, internal.ErrLimitExceeded)

	var appErr *internal.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, internal.KindForbidden, appErr.Kind)
	assert.Equal(t, 10, appErr.Fields["current_count"])
	assert.Equal(t, 10, appErr.Fields["max_allowed"])
	assert.Equal(t, "Free plan", appErr.Fields["plan"])
}

func TestCheck_LifetimeCountIsCompared(t *testing.T) {
	// the monthly reset does not give a capped user new codes
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 10, MonthlyQRCount: 10, LastMonthReset: now.AddDate(0, -2, 0), Plan: freePlan})
	tracker := newTestTracker(store)

	_, err := tracker.Check(context.Background(), 1)
	assert.ErrorIs(t, err, internal.ErrLimitExceeded)
	assert.Zero(t, store.quotas[1].MonthlyQRCount)
}

func TestCheck_Unlimited(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 100000, LastMonthReset: now, Plan: unlimitedPlan})
	tracker := newTestTracker(store)

	q, err := tracker.Check(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, internal.Unlimited, q.Remaining())

	for range 5 {
		q, err = tracker.Commit(context.Background(), q, &internal.ShortLink{UserID: 1, ShortURL: "https://s/x"})
		require.NoError(t, err)
	}
	assert.Equal(t, 100005, q.TotalQRCount)
}

func TestCheck_NoSubscription(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, LastMonthReset: now})
	tracker := newTestTracker(store)

	_, err := tracker.Check(context.Background(), 1)
	assert.ErrorIs(t, err, internal.ErrNoSubscription)
	assert.Equal(t, internal.KindForbidden, internal.KindOf(err))
}

func TestCheck_UnknownUser(t *testing.T) {
	tracker := newTestTracker(newMemStore())

	_, err := tracker.Check(context.Background(), 42)
	assert.ErrorIs(t, err, internal.ErrUserNotFound)
	assert.Equal(t, internal.KindNotFound, internal.KindOf(err))
}

func TestCheck_MonthlyResetIsIdempotent(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 5, MonthlyQRCount: 5, LastMonthReset: now.AddDate(0, -2, 0), Plan: freePlan})
	tracker := newTestTracker(store)

	q, err := tracker.Check(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, q.MonthlyQRCount)
	assert.Equal(t, 5, q.TotalQRCount)
	assert.Equal(t, now, q.LastMonthReset)
	assert.Equal(t, 1, store.resets)

	q, err = tracker.Check(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, q.MonthlyQRCount)
	assert.Equal(t, 1, store.resets, "second call within the month is a no-op")
}

func TestCheck_ConcurrentResetAppliedElsewhere(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 5, MonthlyQRCount: 5, LastMonthReset: now.AddDate(0, -1, 0), Plan: freePlan})
	tracker := newTestTracker(store)

	q, err := store.Get(context.Background(), 1)
	require.NoError(t, err)
	// another request resets first
	_, err = store.ResetMonthly(context.Background(), 1, q.LastMonthReset, now)
	require.NoError(t, err)

	got, err := tracker.applyMonthlyReset(context.Background(), q)
	require.NoError(t, err)
	assert.Zero(t, got.MonthlyQRCount)
	assert.Equal(t, 1, store.resets)
}

func TestCommit(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 9, MonthlyQRCount: 2, LastMonthReset: now, Plan: freePlan})
	tracker := newTestTracker(store)

	q, err := tracker.Check(context.Background(), 1)
	require.NoError(t, err)

	link := &internal.ShortLink{UserID: 1, ShortURL: "https://qr-me.xyz/abc", OriginalURL: "https://example.com"}
	updated, err := tracker.Commit(context.Background(), q, link)
	require.NoError(t, err)
	assert.Equal(t, 10, updated.TotalQRCount)
	assert.Equal(t, 3, updated.MonthlyQRCount)
	assert.Equal(t, int64(1), link.ID)
	assert.Len(t, store.links, 1)

	_, err = tracker.Check(context.Background(), 1)
	assert.ErrorIs(t, err, internal.ErrLimitExceeded)
}

func TestCommit_LostRace(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 9, LastMonthReset: now, Plan: freePlan})
	tracker := newTestTracker(store)

	q, err := tracker.Check(context.Background(), 1)
	require.NoError(t, err)

	store.stolen = true
	_, err = tracker.Commit(context.Background(), q, &internal.ShortLink{UserID: 1, ShortURL: "https://s/x"})
	require.ErrorIs(t, err, internal.ErrLimitExceeded)

	var appErr *internal.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 10, appErr.Fields["current_count"])
	assert.Empty(t, store.links)
}

func TestCommit_PersistenceFailure(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 1, LastMonthReset: now, Plan: freePlan})
	store.nextErr = internal.Persistence(assert.AnError)
	tracker := newTestTracker(store)

	q, err := tracker.Check(context.Background(), 1)
	require.NoError(t, err)

	_, err = tracker.Commit(context.Background(), q, &internal.ShortLink{UserID: 1})
	assert.ErrorIs(t, err, internal.ErrPersistence)
	assert.Equal(t, 1, store.quotas[1].TotalQRCount)
}

func TestUsage(t *testing.T) {
	store := newMemStore(internal.UserQuota{UserID: 1, TotalQRCount: 4, MonthlyQRCount: 4, LastMonthReset: now.AddDate(0, -1, 0), Plan: freePlan})
	tracker := newTestTracker(store)

	q, err := tracker.Usage(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, q.MonthlyQRCount)
	assert.Equal(t, 6, q.Remaining())
}
