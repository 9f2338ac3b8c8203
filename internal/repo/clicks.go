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

const clicksTable = "click_log"

type clickRow struct {
	ID          int64  `db:"id" goqu:"skipinsert"`
	Keyword     string `db:"keyword"`
	ClickedAt   Date   `db:"clicked_at"`
	IPAddress   string `db:"ip_address"`
	CountryCode string `db:"country_code"`
	Referrer    string `db:"referrer"`
	UserAgent   string `db:"user_agent"`
}

var clickColumns = []any{"id", "keyword", "clicked_at", "ip_address", "country_code", "referrer", "user_agent"}

type ClicksRepo struct {
	db *sql.DB
}

func NewClicksRepo(db *sql.DB) *ClicksRepo {
	return &ClicksRepo{db: db}
}

func (r *ClicksRepo) Create(ctx context.Context, click *internal.ClickEvent) error {
	log.Debug().Str("keyword", click.Keyword).Str("ip", click.IPAddress).Msg("recording click")

	if click.ClickedAt.IsZero() {
		click.ClickedAt = time.Now()
	}
	row := clickRow{
		Keyword:     click.Keyword,
		ClickedAt:   NewDate(click.ClickedAt),
		IPAddress:   click.IPAddress,
		CountryCode: click.CountryCode,
		Referrer:    click.Referrer,
		UserAgent:   click.UserAgent,
	}

	res, err := newExecutor(r.db).Insert(clicksTable).Rows(row).Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Str("keyword", click.Keyword).Msg("failed to record click")
		return internal.Persistence(err)
	}

	if id, err := res.LastInsertId(); err == nil {
		click.ID = id
	}
	click.ClickedAt = row.ClickedAt.Time()
	return nil
}

// ListForKeywords returns every click on the given keywords at or after since.
// A nil since means no lower bound.
func (r *ClicksRepo) ListForKeywords(ctx context.Context, keywords []string, since *time.Time) ([]internal.ClickEvent, error) {
	if len(keywords) == 0 {
		return []internal.ClickEvent{}, nil
	}

	query := newExecutor(r.db).From(clicksTable).
		Select(clickColumns...).
		Where(goqu.C("keyword").In(keywords)).
		Order(goqu.C("clicked_at").Asc(), goqu.C("id").Asc())

	if since != nil {
		query = query.Where(goqu.C("clicked_at").Gte(NewDate(*since)))
	}

	var rows []clickRow
	if err := query.ScanStructsContext(ctx, &rows); err != nil {
		log.Error().Err(err).Int("keywords", len(keywords)).Msg("failed to list clicks")
		return nil, err
	}

	return lo.Map(rows, func(row clickRow, _ int) internal.ClickEvent {
		return row.toDomain()
	}), nil
}

// Recent returns the latest clicks on keyword, newest first.
func (r *ClicksRepo) Recent(ctx context.Context, keyword string, limit int) ([]internal.ClickEvent, error) {
	query := newExecutor(r.db).From(clicksTable).
		Select(clickColumns...).
		Where(goqu.Ex{"keyword": keyword}).
		Order(goqu.C("clicked_at").Desc(), goqu.C("id").Desc()).
		Limit(uint(limit))

	var rows []clickRow
	if err := query.ScanStructsContext(ctx, &rows); err != nil {
		log.Error().Err(err).Str("keyword", keyword).Msg("failed to list recent clicks")
		return nil, err
	}

	return lo.Map(rows, func(row clickRow, _ int) internal.ClickEvent {
		return row.toDomain()
	}), nil
}

func (r *clickRow) toDomain() internal.ClickEvent {
	return internal.ClickEvent{
		ID:          r.ID,
		Keyword:     r.Keyword,
		ClickedAt:   r.ClickedAt.Time(),
		IPAddress:   r.IPAddress,
		CountryCode: r.CountryCode,
		Referrer:    r.Referrer,
		UserAgent:   r.UserAgent,
	}
}
