package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	hlerrs "github.com/jdholdren/headlines/internal/errors"
	"github.com/jdholdren/headlines/internal/headlines"
)

// Rows per insert statement, keeps the bound variables well under sqlite's limit.
const upsertBatchSize = 500

var itemColumns = []string{
	"id",
	"title",
	"description",
	"keywords",
	"snippet",
	"url",
	"image_url",
	"language",
	"published_at",
	"source",
	"categories",
	"relevance_score",
	"locale",
}

// record is how a feed item sits in the cache. Everything but the id may be null.
type record struct {
	ID             string  `db:"id"`
	Title          *string `db:"title"`
	Description    *string `db:"description"`
	Keywords       *string `db:"keywords"`
	Snippet        *string `db:"snippet"`
	URL            *string `db:"url"`
	ImageURL       *string `db:"image_url"`
	Language       *string `db:"language"`
	PublishedAt    *string `db:"published_at"`
	Source         *string `db:"source"`
	Categories     *string `db:"categories"` // Comma joined
	RelevanceScore *string `db:"relevance_score"`
	Locale         *string `db:"locale"`
}

func toRecord(item headlines.FeedItem) record {
	var categories *string
	if len(item.Categories) > 0 {
		joined := strings.Join(item.Categories, ",")
		categories = &joined
	}

	return record{
		ID:             item.ID,
		Title:          &item.Title,
		Description:    item.Body,
		Keywords:       item.Keywords,
		Snippet:        item.Snippet,
		URL:            &item.Link,
		ImageURL:       item.ImageLink,
		Language:       item.Language,
		PublishedAt:    &item.PublishedAt,
		Source:         item.Source,
		Categories:     categories,
		RelevanceScore: item.RelevanceScore,
		Locale:         item.Locale,
	}
}

func (r record) item() headlines.FeedItem {
	var categories []string
	if r.Categories != nil && *r.Categories != "" {
		categories = strings.Split(*r.Categories, ",")
	}

	return headlines.FeedItem{
		ID:             r.ID,
		Title:          deref(r.Title),
		Body:           r.Description,
		Keywords:       r.Keywords,
		Snippet:        r.Snippet,
		Link:           deref(r.URL),
		ImageLink:      r.ImageURL,
		Language:       r.Language,
		PublishedAt:    deref(r.PublishedAt),
		Source:         r.Source,
		Categories:     categories,
		RelevanceScore: r.RelevanceScore,
		Locale:         r.Locale,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func storageErr(format string, err error) error {
	return hlerrs.E(hlerrs.KindStorage, fmt.Errorf(format, err))
}

// FetchPage returns the items of the 1-indexed page in insertion order.
//
// A page past the end, or an invalid window, is simply empty.
func (r Repo) FetchPage(ctx context.Context, page, pageSize int) ([]headlines.FeedItem, error) {
	offset, ok := headlines.PageWindow{Page: page, Size: pageSize}.Offset()
	if !ok {
		return []headlines.FeedItem{}, nil
	}

	query, args, err := sq.Select(itemColumns...).
		From("feed_items").
		OrderBy("seq").
		Limit(uint64(pageSize)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, storageErr("error constructing sql: %w", err)
	}

	var recs []record
	if err := r.db.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, storageErr("error selecting page of items: %w", err)
	}

	items := make([]headlines.FeedItem, 0, len(recs))
	for _, rec := range recs {
		items = append(items, rec.item())
	}

	return items, nil
}

// UpsertAll inserts the items whose ids aren't cached yet, all in one transaction.
//
// The first write of an id wins, later writes of it are ignored.
func (r Repo) UpsertAll(ctx context.Context, items []headlines.FeedItem) error {
	if len(items) == 0 {
		return nil
	}

	recs := make([]record, 0, len(items))
	for _, item := range items {
		recs = append(recs, toRecord(item))
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const q = `INSERT INTO feed_items (id, title, description, keywords, snippet, url, image_url, language, published_at, source, categories, relevance_score, locale)
	VALUES (:id, :title, :description, :keywords, :snippet, :url, :image_url, :language, :published_at, :source, :categories, :relevance_score, :locale)
	ON CONFLICT(id) DO NOTHING;`
	for start := 0; start < len(recs); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(recs))
		if _, err := tx.NamedExecContext(ctx, q, recs[start:end]); err != nil {
			return storageErr("error inserting items: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storageErr("error committing items: %w", err)
	}

	return nil
}

// PurgeAll removes every cached item using the repo's [PurgeStrategy].
func (r Repo) PurgeAll(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("error beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.purgeTx(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr("error committing purge: %w", err)
	}

	return nil
}

func (r Repo) purgeTx(ctx context.Context, tx *sqlx.Tx) error {
	if r.purge == PurgeEach {
		return purgeEach(ctx, tx)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_items;`); err != nil {
		return storageErr("error deleting items: %w", err)
	}

	return nil
}

func purgeEach(ctx context.Context, tx *sqlx.Tx) error {
	var ids []string
	if err := tx.SelectContext(ctx, &ids, `SELECT id FROM feed_items ORDER BY seq;`); err != nil {
		return storageErr("error listing items to purge: %w", err)
	}

	for _, id := range ids {
		query, args, err := sq.Delete("feed_items").Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return storageErr("error constructing sql: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return hlerrs.E(hlerrs.KindStorage, fmt.Errorf("error deleting item %s: %w", id, err))
		}
	}

	return nil
}

// Item fetches a single cached item.
func (r Repo) Item(ctx context.Context, id string) (headlines.FeedItem, error) {
	query, args, err := sq.Select(itemColumns...).From("feed_items").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return headlines.FeedItem{}, storageErr("error constructing sql: %w", err)
	}

	var rec record
	err = r.db.GetContext(ctx, &rec, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return headlines.FeedItem{}, hlerrs.E(hlerrs.KindNotFound, headlines.ErrNotFound)
	}
	if err != nil {
		return headlines.FeedItem{}, storageErr("error fetching item: %w", err)
	}

	return rec.item(), nil
}

// Count returns how many items are cached.
func (r Repo) Count(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM feed_items;`

	var count int
	if err := r.db.GetContext(ctx, &count, q); err != nil {
		return 0, storageErr("error counting items: %w", err)
	}

	return count, nil
}
