package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Open connects to a local SQLite file, or to a remote libSQL database when
// dbPath is a libsql:// (or wss://, https://) URL, and applies the schema.
func Open(ctx context.Context, dbPath string) (*sql.DB, error) {
	driver, dsn := driverFor(dbPath)

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// one writer at a time keeps SQLITE_BUSY out of the quota transactions
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Debug().Str("driver", driver).Msg("database connection successful")

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info().Msg("migrations completed successfully")

	return conn, nil
}

func driverFor(dbPath string) (driver, dsn string) {
	for _, scheme := range []string{"libsql://", "wss://", "https://"} {
		if strings.HasPrefix(dbPath, scheme) {
			return "libsql", dbPath
		}
	}
	return "sqlite", formatDBPath(dbPath)
}

func formatDBPath(path string) string {
	path = strings.TrimPrefix(path, "file:")

	// Add pragmas for better performance and safety
	// See: https://pkg.go.dev/modernc.org/sqlite#pkg-overview
	params := url.Values{}
	params.Set("mode", "rwc")
	params.Set("_time_format", "sqlite")
	params.Set("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "busy_timeout(5000)")

	return "file:" + path + "?" + params.Encode()
}

func migrate(ctx context.Context, db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL,
		max_qr_codes INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO plans (name, display_name, max_qr_codes) VALUES
		('free', 'Free plan', 10),
		('pro', 'Pro plan', 100),
		('enterprise', 'Enterprise plan', -1);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT UNIQUE NOT NULL,
		username TEXT UNIQUE,
		name TEXT,
		password_hash TEXT NOT NULL,
		correlativo TEXT NOT NULL DEFAULT '',
		total_qr_count INTEGER NOT NULL DEFAULT 0,
		monthly_qr_count INTEGER NOT NULL DEFAULT 0,
		last_month_reset TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(plan_id) REFERENCES plans(id)
	);

	CREATE TABLE IF NOT EXISTS qr_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		original_url TEXT NOT NULL,
		short_url TEXT NOT NULL,
		keyword TEXT NOT NULL,
		correlativo TEXT,
		qr_svg TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS click_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		keyword TEXT NOT NULL,
		clicked_at TEXT NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		country_code TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS reconciliation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		operation TEXT NOT NULL,
		short_url TEXT NOT NULL,
		original_url TEXT NOT NULL,
		error TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_active ON subscriptions(user_id) WHERE status = 'active';
	CREATE INDEX IF NOT EXISTS idx_qr_history_user_id ON qr_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_qr_history_keyword ON qr_history(keyword);
	CREATE INDEX IF NOT EXISTS idx_click_log_keyword ON click_log(keyword);
	CREATE INDEX IF NOT EXISTS idx_click_log_clicked_at ON click_log(clicked_at);
	`

	_, err := db.ExecContext(ctx, schema)
	return err
}
