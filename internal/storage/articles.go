package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/deusflow/techfeed/internal/article"
)

// DefaultPageSize matches the public listing's page size.
const DefaultPageSize = 21

var (
	ErrQueued       = errors.New("article is still queued")
	ErrDeadLettered = errors.New("article failed generation")
)

type ListQuery struct {
	Page     int
	PageSize int
	Keyword  string
	Domain   string
}

type Page struct {
	Articles []*article.Article `json:"articles"`
	Page     int                `json:"page"`
	Pages    int                `json:"pages"`
	Total    int                `json:"total"`
}

func (s *Store) GetByID(ctx context.Context, id int64) (*article.Article, error) {
	return s.getOne(ctx, sq.Eq{"id": id})
}

func (s *Store) getOne(ctx context.Context, where sq.Sqlizer) (*article.Article, error) {
	query, args, err := s.sb.Select(articleColumns...).From("articles").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// GetBySlug returns the published article with slug after incrementing its
// view count. Records in any other status are reported as ErrNotFound.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*article.Article, error) {
	published := sq.Eq{"slug": slug, "status": string(article.StatusPublished)}
	query, args, err := s.sb.Update("articles").
		Set("views", sq.Expr("views + 1")).
		Where(published).
		ToSql()
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count view %s: %w", slug, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.getOne(ctx, published)
}

// ListPublished pages through published articles, newest first, optionally
// filtered by a case-insensitive title substring and an exact domain label.
func (s *Store) ListPublished(ctx context.Context, q ListQuery) (Page, error) {
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	where := sq.And{sq.Eq{"status": string(article.StatusPublished)}}
	if kw := strings.TrimSpace(q.Keyword); kw != "" {
		where = append(where, sq.Like{"LOWER(title)": "%" + strings.ToLower(kw) + "%"})
	}
	if q.Domain != "" {
		where = append(where, sq.Eq{"domain": q.Domain})
	}

	countQuery, countArgs, err := s.sb.Select("COUNT(*)").From("articles").Where(where).ToSql()
	if err != nil {
		return Page{}, err
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count published: %w", err)
	}

	query, args, err := s.sb.Select(articleColumns...).
		From("articles").
		Where(where).
		OrderBy("published_at DESC", "id DESC").
		Limit(uint64(q.PageSize)).
		Offset(uint64((q.Page - 1) * q.PageSize)).
		ToSql()
	if err != nil {
		return Page{}, err
	}

	articles, err := s.queryArticles(ctx, query, args)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Articles: articles,
		Page:     q.Page,
		Pages:    (total + q.PageSize - 1) / q.PageSize,
		Total:    total,
	}, nil
}

// ListByStatus returns up to limit records in status, newest first.
func (s *Store) ListByStatus(ctx context.Context, status article.Status, limit int) ([]*article.Article, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if limit <= 0 {
		limit = 100
	}
	query, args, err := s.sb.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"status": string(status)}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	return s.queryArticles(ctx, query, args)
}

func (s *Store) queryArticles(ctx context.Context, query string, args []interface{}) ([]*article.Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	out := []*article.Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetStatus is the manual approval transition. Only published and rejected
// are accepted. Records that never got generated content (queued or failed)
// cannot be moved and yield ErrQueued or ErrDeadLettered.
func (s *Store) SetStatus(ctx context.Context, id int64, status article.Status) (*article.Article, error) {
	if status != article.StatusPublished && status != article.StatusRejected {
		return nil, ErrInvalidStatus
	}

	query, args, err := s.sb.Update("articles").
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": []string{string(article.StatusQueued), string(article.StatusFailed)}}).
		ToSql()
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("set status %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	a, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if a.Status == article.StatusFailed {
			return nil, ErrDeadLettered
		}
		return nil, ErrQueued
	}
	return a, nil
}

// Stats counts records per status.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	query, args, err := s.sb.Select("status", "COUNT(*)").From("articles").GroupBy("status").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"total": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}
