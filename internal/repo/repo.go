package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/abdusco/qrlinks/internal"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog/log"
)

const dialect = "sqlite3"

func newExecutor(db *sql.DB) *goqu.Database {
	return goqu.New(dialect, db)
}

// withTx runs fn in a transaction, committing when it returns nil. The error
// of fn is returned as is even when the rollback fails too; errors that are
// not application errors, a failed COMMIT included, become persistence errors.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *goqu.TxDatabase) error) error {
	tx, err := newExecutor(db).BeginTx(ctx, nil)
	if err != nil {
		return internal.Persistence(err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).AnErr("cause", err).Msg("failed to roll back transaction")
		}
		return asPersistence(err)
	}

	if err := tx.Commit(); err != nil {
		return internal.Persistence(err)
	}
	return nil
}

func asPersistence(err error) error {
	var appErr *internal.Error
	if errors.As(err, &appErr) {
		return err
	}
	return internal.Persistence(err)
}

// isUniqueViolation reports whether err comes from a UNIQUE constraint.
// modernc and libsql both surface the SQLite message text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
