package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const reconciliationTable = "reconciliation_log"

type reconciliationRow struct {
	ID          int64  `db:"id" goqu:"skipinsert"`
	UserID      int64  `db:"user_id"`
	Operation   string `db:"operation"`
	ShortURL    string `db:"short_url"`
	OriginalURL string `db:"original_url"`
	Error       string `db:"error"`
	CreatedAt   Date   `db:"created_at"`
}

// ReconciliationRepo stores upstream changes whose local persistence failed,
// for an operator to reconcile.
type ReconciliationRepo struct {
	db *sql.DB
}

func NewReconciliationRepo(db *sql.DB) *ReconciliationRepo {
	return &ReconciliationRepo{db: db}
}

func (r *ReconciliationRepo) Record(ctx context.Context, rec *internal.ReconciliationRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	row := reconciliationRow{
		UserID:      rec.UserID,
		Operation:   rec.Operation,
		ShortURL:    rec.ShortURL,
		OriginalURL: rec.OriginalURL,
		Error:       rec.Error,
		CreatedAt:   NewDate(rec.CreatedAt),
	}

	res, err := newExecutor(r.db).Insert(reconciliationTable).Rows(row).Executor().ExecContext(ctx)
	if err != nil {
		return internal.Persistence(err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}

	log.Warn().
		Int64("user_id", rec.UserID).
		Str("operation", rec.Operation).
		Str("short_url", rec.ShortURL).
		Msg("reconciliation record written")
	return nil
}

func (r *ReconciliationRepo) List(ctx context.Context) ([]internal.ReconciliationRecord, error) {
	var rows []reconciliationRow
	err := newExecutor(r.db).From(reconciliationTable).
		Select("id", "user_id", "operation", "short_url", "original_url", "error", "created_at").
		Order(goqu.C("id").Asc()).
		ScanStructsContext(ctx, &rows)
	if err != nil {
		return nil, internal.Persistence(err)
	}

	return lo.Map(rows, func(row reconciliationRow, _ int) internal.ReconciliationRecord {
		return internal.ReconciliationRecord{
			ID:          row.ID,
			UserID:      row.UserID,
			Operation:   row.Operation,
			ShortURL:    row.ShortURL,
			OriginalURL: row.OriginalURL,
			Error:       row.Error,
			CreatedAt:   row.CreatedAt.Time(),
		}
	}), nil
}
