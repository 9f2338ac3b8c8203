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

const (
	usersTable         = "users"
	subscriptionsTable = "subscriptions"
	plansTable         = "plans"

	freePlanName       = "free"
	subscriptionActive = "active"
)

type userRow struct {
	ID             int64       `db:"id" goqu:"skipinsert,skipupdate"`
	Email          string      `db:"email"`
	Username       null.String `db:"username"`
	Name           null.String `db:"name"`
	PasswordHash   string      `db:"password_hash"`
	Correlativo    string      `db:"correlativo"`
	TotalQRCount   int         `db:"total_qr_count"`
	MonthlyQRCount int         `db:"monthly_qr_count"`
	LastMonthReset Date        `db:"last_month_reset"`
	CreatedAt      Date        `db:"created_at" goqu:"skipupdate"`
	UpdatedAt      Date        `db:"updated_at"`
}

type UsersRepo struct {
	db *sql.DB
}

func NewUsersRepo(db *sql.DB) *UsersRepo {
	return &UsersRepo{db: db}
}

// Create inserts the user and subscribes it to the free plan in one
// transaction.
func (r *UsersRepo) Create(ctx context.Context, user *internal.User) error {
	err := withTx(ctx, r.db, func(tx *goqu.TxDatabase) error {
		if err := checkUserConflict(ctx, tx, user); err != nil {
			return err
		}

		var planID int64
		found, err := tx.From(plansTable).Select("id").Where(goqu.Ex{"name": freePlanName}).ScanValContext(ctx, &planID)
		if err != nil {
			return internal.Persistence(err)
		}
		if !found {
			return internal.ErrFreePlanNotFound
		}

		now := NewDate(time.Now())
		row := userRow{
			Email:          user.Email,
			Username:       null.NewString(user.Username, user.Username != ""),
			Name:           null.NewString(user.Name, user.Name != ""),
			PasswordHash:   user.PasswordHash,
			Correlativo:    user.Correlativo,
			LastMonthReset: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		res, err := tx.Insert(usersTable).Rows(row).Executor().ExecContext(ctx)
		if err != nil {
			if isUniqueViolation(err) {
				return internal.Conflict("a user with that email or username already exists")
			}
			return internal.Persistence(err)
		}
		if user.ID, err = res.LastInsertId(); err != nil {
			return internal.Persistence(err)
		}
		user.CreatedAt = now.Time()

		_, err = tx.Insert(subscriptionsTable).
			Cols("user_id", "plan_id", "status", "created_at").
			Vals(goqu.Vals{user.ID, planID, subscriptionActive, now}).
			Executor().ExecContext(ctx)
		if err != nil {
			return internal.Persistence(err)
		}
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("email", user.Email).Msg("failed to create user")
		return err
	}

	log.Info().Int64("id", user.ID).Str("email", user.Email).Msg("user created with free plan")
	return nil
}

func checkUserConflict(ctx context.Context, tx *goqu.TxDatabase, user *internal.User) error {
	conds := []exp.Expression{goqu.C("email").Eq(user.Email)}
	if user.Username != "" {
		conds = append(conds, goqu.C("username").Eq(user.Username))
	}

	var existing userRow
	found, err := tx.From(usersTable).
		Select("id", "email", "username").
		Where(goqu.Or(conds...)).
		Limit(1).
		ScanStructContext(ctx, &existing)
	if err != nil {
		return internal.Persistence(err)
	}
	if !found {
		return nil
	}

	field := "username"
	if existing.Email == user.Email {
		field = "email"
	}
	return internal.Conflict(fmt.Sprintf("a user with that %s already exists", field))
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (*internal.User, error) {
	return r.getOne(ctx, goqu.Ex{"email": email})
}

func (r *UsersRepo) GetByID(ctx context.Context, id int64) (*internal.User, error) {
	return r.getOne(ctx, goqu.Ex{"id": id})
}

func (r *UsersRepo) getOne(ctx context.Context, where goqu.Ex) (*internal.User, error) {
	var row userRow
	found, err := newExecutor(r.db).From(usersTable).
		Select("id", "email", "username", "name", "password_hash", "correlativo",
			"total_qr_count", "monthly_qr_count", "last_month_reset", "created_at", "updated_at").
		Where(where).
		ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch user")
		return nil, internal.Persistence(err)
	}
	if !found {
		return nil, internal.ErrUserNotFound
	}
	return row.toDomain(), nil
}

func (r *userRow) toDomain() *internal.User {
	return &internal.User{
		ID:           r.ID,
		Email:        r.Email,
		Username:     r.Username.ValueOrZero(),
		Name:         r.Name.ValueOrZero(),
		PasswordHash: r.PasswordHash,
		Correlativo:  r.Correlativo,
		CreatedAt:    r.CreatedAt.Time(),
	}
}
