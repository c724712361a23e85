package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/deusflow/techfeed/internal/article"
)

const maxErrorLen = 1000

var articleColumns = []string{
	"id", "fingerprint", "slug", "status", "title", "summary", "draft_context", "body",
	"image_url", "domain", "tags", "key_takeaways", "original_sources", "views",
	"source", "source_url", "published_at", "failure_count", "last_error",
	"created_at", "updated_at",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (*article.Article, error) {
	var (
		a                          article.Article
		status                     string
		tags, takeaways, originals string
	)
	err := row.Scan(
		&a.ID, &a.Fingerprint, &a.Slug, &status, &a.Title, &a.Summary, &a.DraftContext, &a.Body,
		&a.ImageURL, &a.Domain, &tags, &takeaways, &originals, &a.Views,
		&a.Source, &a.SourceURL, &a.PublishedAt, &a.FailureCount, &a.LastError,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = article.Status(status)
	if a.Tags, err = decodeList(tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if a.KeyTakeaways, err = decodeList(takeaways); err != nil {
		return nil, fmt.Errorf("decode key_takeaways: %w", err)
	}
	if a.OriginalSources, err = decodeList(originals); err != nil {
		return nil, fmt.Errorf("decode original_sources: %w", err)
	}
	return &a, nil
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	out := []string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Enqueue inserts a in queued status and sets its ID and timestamps. A
// fingerprint or slug that already exists yields ErrDuplicate.
func (s *Store) Enqueue(ctx context.Context, a *article.Article) error {
	now := time.Now().UTC()
	a.Status = article.StatusQueued
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = now
	}
	a.UpdatedAt = now

	query, args, err := s.sb.Insert("articles").
		Columns(articleColumns[1:]...).
		Values(
			a.Fingerprint, a.Slug, string(a.Status), a.Title, a.Summary, a.DraftContext, a.Body,
			a.ImageURL, a.Domain, encodeList(a.Tags), encodeList(a.KeyTakeaways), encodeList(a.OriginalSources), a.Views,
			a.Source, a.SourceURL, a.PublishedAt.UTC(), a.FailureCount, a.LastError,
			a.CreatedAt.UTC(), a.UpdatedAt,
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return err
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&a.ID); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return fmt.Errorf("enqueue %s: %w", a.Fingerprint, err)
	}
	return nil
}

// PeekOldestQueued returns the queued record created first, or nil when the
// queue is empty.
func (s *Store) PeekOldestQueued(ctx context.Context) (*article.Article, error) {
	query, args, err := s.sb.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"status": string(article.StatusQueued)}).
		OrderBy("created_at ASC", "id ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	a, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek queue: %w", err)
	}
	return a, nil
}

func (s *Store) HasQueued(ctx context.Context) (bool, error) {
	query, args, err := s.sb.Select("1").
		From("articles").
		Where(sq.Eq{"status": string(article.StatusQueued)}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, err
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check queue: %w", err)
	}
	return true, nil
}

// KnownFingerprints returns the subset of fps already stored, in any status.
func (s *Store) KnownFingerprints(ctx context.Context, fps []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(fps) == 0 {
		return known, nil
	}

	query, args, err := s.sb.Select("fingerprint").
		From("articles").
		Where(sq.Eq{"fingerprint": fps}).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		known[fp] = true
	}
	return known, rows.Err()
}

// PromoteToPublished replaces the content of a queued record with g and
// flips it to published in a single statement. The record must still be
// queued; otherwise ErrNotQueued (or ErrNotFound) is returned and nothing
// changes.
func (s *Store) PromoteToPublished(ctx context.Context, id int64, g article.Generated) error {
	now := time.Now().UTC()
	query, args, err := s.sb.Update("articles").
		SetMap(map[string]interface{}{
			"title":         g.Title,
			"slug":          g.Slug,
			"summary":       g.Summary,
			"body":          g.Body,
			"draft_context": "",
			"image_url":     g.ImageURL,
			"tags":          encodeList(g.Tags),
			"key_takeaways": encodeList(g.KeyTakeaways),
			"status":        string(article.StatusPublished),
			"published_at":  now,
			"last_error":    "",
			"updated_at":    now,
		}).
		Where(sq.Eq{"id": id, "status": string(article.StatusQueued)}).
		ToSql()
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return fmt.Errorf("promote %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrNotQueued
	}
	return nil
}

// RecordFailure counts a failed drain attempt against a queued record. Once
// maxFailures is reached (0 disables the limit) the record moves to failed.
// The resulting status is returned.
func (s *Store) RecordFailure(ctx context.Context, id int64, reason string, maxFailures int) (article.Status, error) {
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query, args, err := s.sb.Update("articles").
		Set("failure_count", sq.Expr("failure_count + 1")).
		Set("last_error", reason).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "status": string(article.StatusQueued)}).
		ToSql()
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("record failure %d: %w", id, err)
	}

	if maxFailures > 0 {
		query, args, err = s.sb.Update("articles").
			Set("status", string(article.StatusFailed)).
			Where(sq.Eq{"id": id, "status": string(article.StatusQueued)}).
			Where(sq.GtOrEq{"failure_count": maxFailures}).
			ToSql()
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return "", fmt.Errorf("dead-letter %d: %w", id, err)
		}
	}

	query, args, err = s.sb.Select("status").From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return "", err
	}
	var status string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}

	return article.Status(status), tx.Commit()
}
