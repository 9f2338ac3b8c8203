package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/abdusco/qrlinks/internal"
	"github.com/doug-martin/goqu/v9"
	"github.com/guregu/null"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

const linksTable = "qr_history"

type linkRow struct {
	ID          int64       `db:"id" goqu:"skipinsert,skipupdate"`
	UserID      int64       `db:"user_id"`
	OriginalURL string      `db:"original_url"`
	ShortURL    string      `db:"short_url"`
	Keyword     string      `db:"keyword"`
	Correlativo null.String `db:"correlativo"`
	QRSVG       null.String `db:"qr_svg"`
	CreatedAt   Date        `db:"created_at" goqu:"skipupdate"`
}

var linkColumns = []any{"id", "user_id", "original_url", "short_url", "keyword", "correlativo", "qr_svg", "created_at"}

type LinksRepo struct {
	db *sql.DB
}

func NewLinksRepo(db *sql.DB) *LinksRepo {
	return &LinksRepo{db: db}
}

// insertLink appends a history row inside an open transaction.
func insertLink(ctx context.Context, tx *goqu.TxDatabase, link *internal.ShortLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	row := linkRow{
		UserID:      link.UserID,
		OriginalURL: link.OriginalURL,
		ShortURL:    link.ShortURL,
		Keyword:     link.Keyword(),
		Correlativo: null.NewString(link.Correlativo, link.Correlativo != ""),
		QRSVG:       null.NewString(link.QRSVG, link.QRSVG != ""),
		CreatedAt:   NewDate(link.CreatedAt),
	}

	res, err := tx.Insert(linksTable).Rows(row).Executor().ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert history row: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read history row id: %w", err)
	}
	link.ID = id
	link.CreatedAt = row.CreatedAt.Time()
	return nil
}

func (r *LinksRepo) ListByOwner(ctx context.Context, userID int64) ([]internal.ShortLink, error) {
	query := newExecutor(r.db).From(linksTable).
		Select(linkColumns...).
		Where(goqu.Ex{"user_id": userID}).
		Order(goqu.C("created_at").Desc(), goqu.C("id").Desc())

	var rows []linkRow
	if err := query.ScanStructsContext(ctx, &rows); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list links")
		return nil, internal.Persistence(err)
	}

	return lo.Map(rows, func(row linkRow, _ int) internal.ShortLink {
		return row.toDomain()
	}), nil
}

// GetForOwner returns the link only when it belongs to userID.
func (r *LinksRepo) GetForOwner(ctx context.Context, userID, id int64) (*internal.ShortLink, error) {
	return r.getOne(ctx, goqu.Ex{"id": id, "user_id": userID})
}

func (r *LinksRepo) GetByKeywordForOwner(ctx context.Context, userID int64, keyword string) (*internal.ShortLink, error) {
	return r.getOne(ctx, goqu.Ex{"keyword": keyword, "user_id": userID})
}

func (r *LinksRepo) getOne(ctx context.Context, where goqu.Ex) (*internal.ShortLink, error) {
	query := newExecutor(r.db).From(linksTable).
		Select(linkColumns...).
		Where(where).
		Order(goqu.C("id").Desc()).
		Limit(1)

	var row linkRow
	found, err := query.ScanStructContext(ctx, &row)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch link")
		return nil, internal.Persistence(err)
	}
	if !found {
		return nil, internal.ErrLinkNotFound
	}

	link := row.toDomain()
	return &link, nil
}

// KeywordsByOwner returns the distinct non-empty keywords of the user's links.
func (r *LinksRepo) KeywordsByOwner(ctx context.Context, userID int64) ([]string, error) {
	query := newExecutor(r.db).From(linksTable).
		Select(goqu.DISTINCT("keyword")).
		Where(goqu.Ex{"user_id": userID}, goqu.C("keyword").Neq(""))

	var keywords []string
	if err := query.ScanValsContext(ctx, &keywords); err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("failed to list keywords")
		return nil, internal.Persistence(err)
	}
	return keywords, nil
}

func (r *LinksRepo) UpdateOriginalURL(ctx context.Context, userID, id int64, originalURL string) error {
	return r.update(ctx, userID, id, goqu.Record{"original_url": originalURL})
}

func (r *LinksRepo) UpdateQR(ctx context.Context, userID, id int64, svg string) error {
	return r.update(ctx, userID, id, goqu.Record{"qr_svg": svg})
}

func (r *LinksRepo) update(ctx context.Context, userID, id int64, set goqu.Record) error {
	query := newExecutor(r.db).Update(linksTable).
		Set(set).
		Where(goqu.Ex{"id": id, "user_id": userID})

	res, err := query.Executor().ExecContext(ctx)
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("failed to update link")
		return internal.Persistence(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return internal.Persistence(err)
	}
	if n == 0 {
		return internal.ErrLinkNotFound
	}

	log.Debug().Int64("id", id).Int64("user_id", userID).Msg("link updated")
	return nil
}

func (r *linkRow) toDomain() internal.ShortLink {
	return internal.ShortLink{
		ID:          r.ID,
		UserID:      r.UserID,
		OriginalURL: r.OriginalURL,
		ShortURL:    r.ShortURL,
		Correlativo: r.Correlativo.ValueOrZero(),
		QRSVG:       r.QRSVG.ValueOrZero(),
		CreatedAt:   r.CreatedAt.Time(),
	}
}
