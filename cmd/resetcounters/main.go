// Command resetcounters zeroes the monthly qr counter of every user whose last
// reset is at least one calendar month old. It is meant to run from cron at
// the start of each month; the server also resets counters lazily.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdusco/qrlinks/internal/config"
	"github.com/abdusco/qrlinks/internal/db"
	"github.com/abdusco/qrlinks/internal/logger"
	"github.com/abdusco/qrlinks/internal/quota"
	"github.com/abdusco/qrlinks/internal/repo"
	"github.com/rs/zerolog/log"
)

func main() {
	listPending := flag.Bool("reconciliation", false, "also list pending reconciliation records")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}
	if err := logger.Setup(cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg.DBPath, *listPending); err != nil {
		log.Fatal().Err(err).Msg("counter reset failed")
	}
}

func run(ctx context.Context, dbPath string, listPending bool) error {
	conn, err := db.Open(ctx, dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()

	now := time.Now().UTC()
	reset, err := repo.NewQuotaRepo(conn).ResetDue(ctx, now, func(lastReset time.Time) bool {
		return quota.ResetDue(lastReset, now)
	})
	if err != nil {
		return err
	}

	for _, entry := range reset {
		log.Info().
			Int64("user_id", entry.UserID).
			Str("email", entry.Email).
			Int("monthly_count", entry.MonthlyQRCount).
			Time("last_reset", entry.LastMonthReset).
			Msg("monthly counter reset")
	}
	log.Info().Int("users", len(reset)).Msg("monthly counters reset")

	if !listPending {
		return nil
	}

	records, err := repo.NewReconciliationRepo(conn).List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		log.Warn().
			Int64("id", rec.ID).
			Int64("user_id", rec.UserID).
			Str("operation", rec.Operation).
			Str("short_url", rec.ShortURL).
			Str("url", rec.OriginalURL).
			Str("error", rec.Error).
			Time("created_at", rec.CreatedAt).
			Msg("pending reconciliation")
	}
	return nil
}
