package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/guregu/null"
	"github.com/rs/zerolog/log"
)

type quotaRow struct {
	UserID          int64       `db:"user_id"`
	Email           string      `db:"email"`
	Correlativo     string      `db:"correlativo"`
	TotalQRCount    int         `db:"total_qr_count"`
	MonthlyQRCount  int         `db:"monthly_qr_count"`
	LastMonthReset  Date        `db:"last_month_reset"`
	PlanID          null.Int    `db:"plan_id"`
	PlanName        null.String `db:"plan_name"`
	PlanDisplayName null.String `db:"plan_display_name"`
	PlanMaxQRCodes  null.Int    `db:"plan_max_qr_codes"`
}

// ResetEntry describes one user touched by a batch monthly reset.
type ResetEntry struct {
	UserID         int64
	Email          string
	MonthlyQRCount int
	LastMonthReset time.Time
}

// QuotaRepo owns the usage counters of users and the history rows whose
// insertion consumes them.
type QuotaRepo struct {
	db *sql.DB
}

func NewQuotaRepo(db *sql.DB) *QuotaRepo {
	return &QuotaRepo{db: db}
}

func (r *QuotaRepo) Get(ctx context.Context, userID int64) (*internal.UserQuota, error) {
	query := newExecutor(r.db).
		From(goqu.T(usersTable).As("u")).
		LeftJoin(goqu.T(subscriptionsTable).As("s"), goqu.On(
			goqu.I("s.user_id").Eq(goqu.I("u.id")),
			goqu.I("s.status").Eq(subscriptionActive),
		)).
		LeftJoin(goqu.T(plansTable).As("p"), goqu.On(goqu.I("p.id").Eq(goqu.I("s.plan_id")))).
		Select(
			goqu.I("u.id").As("user_id"),
			goqu.I("u.email").As("email"),
			goqu.I("u.correlativo").As("correlativo"),
			goqu.I("u.total_qr_count").As("total_qr_count"),
			goqu.I("u.monthly_qr_count").As("monthly_qr_count"),
			goqu.I("u.last_month_reset").As("last_month_reset"),
			goqu.I("p.id").As("plan_id"),
			goqu.I("p.name").As("plan_name"),
			goqu.I("p.display_name").As("plan_display_name"),
			goqu.I("p.max_qr_codes").As("plan_max_qr_codes"),
		).
		Where(goqu.I("u.id").Eq(userID))

	var row quotaRow
	found, err := query.ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to fetch quota")
		return nil, internal.Persistence(err)
	}
	if !found {
		return nil, internal.ErrUserNotFound
	}
	return row.toDomain(), nil
}

// ResetMonthly zeroes the monthly counter. The update only applies while the
// stored reset timestamp still equals previous, so concurrent resets of the
// same user collapse into one. It reports whether this call applied it.
func (r *QuotaRepo) ResetMonthly(ctx context.Context, userID int64, previous, now time.Time) (bool, error) {
	query := newExecutor(r.db).Update(usersTable).
		Set(goqu.Record{
			"monthly_qr_count": 0,
			"last_month_reset": NewDate(now),
			"updated_at":       NewDate(now),
		}).
		Where(goqu.Ex{"id": userID, "last_month_reset": NewDate(previous)})

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to reset monthly counter")
		return false, internal.Persistence(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, internal.Persistence(err)
	}
	return n > 0, nil
}

// IncrementAndRecord bumps both counters and appends the history row in one
// transaction. Unless ceiling is internal.Unlimited the increment is guarded
// by total_qr_count < ceiling; when the guard rejects it nothing is written
// and internal.ErrLimitExceeded is returned.
func (r *QuotaRepo) IncrementAndRecord(ctx context.Context, userID int64, ceiling int, link *internal.ShortLink) (*internal.UserQuota, error) {
	err := withTx(ctx, r.db, func(tx *goqu.TxDatabase) error {
		where := []exp.Expression{goqu.C("id").Eq(userID)}
		if ceiling != internal.Unlimited {
			where = append(where, goqu.C("total_qr_count").Lt(ceiling))
		}

		res, err := tx.Update(usersTable).
			Set(goqu.Record{
				"total_qr_count":   goqu.L("total_qr_count + 1"),
				"monthly_qr_count": goqu.L("monthly_qr_count + 1"),
				"updated_at":       NewDate(time.Now()),
			}).
			Where(where...).
			Executor().ExecContext(ctx)
		if err != nil {
			return internal.Persistence(fmt.Errorf("failed to increment counters: %w", err))
		}

		n, err := res.RowsAffected()
		if err != nil {
			return internal.Persistence(err)
		}
		if n == 0 {
			return internal.ErrLimitExceeded
		}

		if err := insertLink(ctx, tx, link); err != nil {
			return internal.Persistence(err)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("quota commit rolled back")
		return nil, err
	}

	log.Debug().Int64("user_id", userID).Int64("link_id", link.ID).Msg("quota committed")
	return r.Get(ctx, userID)
}

// ResetDue zeroes the monthly counter of every user for whom due reports
// true, in a single transaction, and returns the users it reset.
func (r *QuotaRepo) ResetDue(ctx context.Context, now time.Time, due func(lastReset time.Time) bool) ([]ResetEntry, error) {
	var reset []ResetEntry
	err := withTx(ctx, r.db, func(tx *goqu.TxDatabase) error {
		var rows []userRow
		err := tx.From(usersTable).
			Select("id", "email", "monthly_qr_count", "last_month_reset").
			ScanStructsContext(ctx, &rows)
		if err != nil {
			return internal.Persistence(err)
		}

		var ids []int64
		for _, row := range rows {
			if !due(row.LastMonthReset.Time()) {
				continue
			}
			ids = append(ids, row.ID)
			reset = append(reset, ResetEntry{
				UserID:         row.ID,
				Email:          row.Email,
				MonthlyQRCount: row.MonthlyQRCount,
				LastMonthReset: row.LastMonthReset.Time(),
			})
		}
		if len(ids) == 0 {
			return nil
		}

		_, err = tx.Update(usersTable).
			Set(goqu.Record{
				"monthly_qr_count": 0,
				"last_month_reset": NewDate(now),
				"updated_at":       NewDate(now),
			}).
			Where(goqu.C("id").In(ids)).
			Executor().ExecContext(ctx)
		if err != nil {
			return internal.Persistence(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reset, nil
}

func (r *quotaRow) toDomain() *internal.UserQuota {
	q := &internal.UserQuota{
		UserID:         r.UserID,
		Email:          r.Email,
		Correlativo:    r.Correlativo,
		TotalQRCount:   r.TotalQRCount,
		MonthlyQRCount: r.MonthlyQRCount,
		LastMonthReset: r.LastMonthReset.Time(),
	}
	if r.PlanID.Valid {
		q.Plan = &internal.Plan{
			ID:          r.PlanID.ValueOrZero(),
			Name:        r.PlanName.ValueOrZero(),
			DisplayName: r.PlanDisplayName.ValueOrZero(),
			MaxQRCodes:  int(r.PlanMaxQRCodes.ValueOrZero()),
		}
	}
	return q
}
