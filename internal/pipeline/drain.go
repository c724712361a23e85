package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/lease"
	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/ratelimit"
	"github.com/deusflow/techfeed/internal/storage"
)

type Generator interface {
	Generate(ctx context.Context, domain, sources string) (*article.Generated, error)
}

type ImageResolver interface {
	Resolve(ctx context.Context, pageURL string) string
}

type Notifier interface {
	Announce(ctx context.Context, a *article.Article) error
}

type Outcome string

const (
	OutcomeEmpty        Outcome = "empty"
	OutcomeOverBudget   Outcome = "over_budget"
	OutcomeClaimed      Outcome = "claimed_elsewhere"
	OutcomePublished    Outcome = "published"
	OutcomeFailed       Outcome = "failed"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

type DrainResult struct {
	Outcome   Outcome
	ArticleID int64
}

type DrainerOptions struct {
	// MaxFailures moves a candidate to failed after that many failed
	// drains. 0 keeps retrying forever.
	MaxFailures int
	Locker      lease.Locker
	Budget      *ratelimit.DailyBudget
	Notifier    Notifier
}

type Drainer struct {
	store   Store
	gen     Generator
	images  ImageResolver
	opts    DrainerOptions
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewDrainer(store Store, gen Generator, images ImageResolver, opts DrainerOptions, log *slog.Logger) *Drainer {
	if opts.Locker == nil {
		opts.Locker = lease.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Drainer{store: store, gen: gen, images: images, opts: opts, metrics: metrics.Global, log: log}
}

// Drain processes at most one candidate: the oldest queued one. On any
// generation failure the candidate keeps its content and stays queued
// (unless its failure budget is spent); the error is returned.
func (d *Drainer) Drain(ctx context.Context) (DrainResult, error) {
	start := time.Now()
	defer func() { d.metrics.RecordDrainTime(time.Since(start)) }()

	if d.opts.Budget != nil && !d.opts.Budget.CanGenerate() {
		return DrainResult{Outcome: OutcomeOverBudget}, nil
	}

	cand, err := d.store.PeekOldestQueued(ctx)
	if err != nil {
		return DrainResult{}, err
	}
	if cand == nil {
		d.log.Info("queue is empty, nothing to process")
		return DrainResult{Outcome: OutcomeEmpty}, nil
	}
	res := DrainResult{ArticleID: cand.ID}

	release, ok, err := d.opts.Locker.Acquire(ctx, cand.ID)
	if err != nil {
		return res, err
	}
	defer release()
	if !ok {
		d.log.Info("candidate claimed by another worker", "article_id", cand.ID)
		res.Outcome = OutcomeClaimed
		return res, nil
	}

	if d.opts.Budget != nil {
		if err := d.opts.Budget.Use(); err != nil {
			res.Outcome = OutcomeOverBudget
			return res, nil
		}
	}

	d.log.Info("processing candidate", "article_id", cand.ID, "title", cand.Title, "domain", cand.Domain)

	gen, err := d.gen.Generate(ctx, cand.Domain, cand.DraftContext)
	if err != nil {
		return d.fail(ctx, res, cand, err)
	}

	if img := d.images.Resolve(ctx, cand.SourceURL); img != "" {
		gen.ImageURL = img
		d.metrics.IncrementImagesResolved()
	}

	err = d.store.PromoteToPublished(ctx, cand.ID, *gen)
	switch {
	case errors.Is(err, storage.ErrNotQueued):
		d.log.Warn("candidate left the queue during generation", "article_id", cand.ID)
		res.Outcome = OutcomeClaimed
		return res, nil
	case errors.Is(err, storage.ErrDuplicate):
		return d.fail(ctx, res, cand, err)
	case err != nil:
		return res, fmt.Errorf("promote %d: %w", cand.ID, err)
	}

	d.metrics.IncrementPublished()
	res.Outcome = OutcomePublished
	d.log.Info("article published", "article_id", cand.ID, "title", gen.Title, "slug", gen.Slug)

	d.announce(ctx, cand.ID)
	return res, nil
}

func (d *Drainer) fail(ctx context.Context, res DrainResult, cand *article.Article, cause error) (DrainResult, error) {
	d.metrics.IncrementGenerationFailure()
	d.metrics.SetError(cause.Error())
	res.Outcome = OutcomeFailed

	status, err := d.store.RecordFailure(ctx, cand.ID, cause.Error(), d.opts.MaxFailures)
	if err != nil {
		d.log.Error("failed to record failure", "article_id", cand.ID, "error", err)
	} else if status == article.StatusFailed {
		res.Outcome = OutcomeDeadLettered
		d.log.Warn("candidate moved to failed", "article_id", cand.ID, "max_failures", d.opts.MaxFailures)
	}

	return res, fmt.Errorf("generate %d: %w", cand.ID, cause)
}

func (d *Drainer) announce(ctx context.Context, id int64) {
	if d.opts.Notifier == nil {
		return
	}
	a, err := d.store.GetByID(ctx, id)
	if err != nil {
		d.log.Warn("could not load article for notice", "article_id", id, "error", err)
		return
	}
	if err := d.opts.Notifier.Announce(ctx, a); err != nil {
		d.log.Warn("publication notice failed", "article_id", id, "error", err)
		return
	}
	d.metrics.IncrementNoticesSent()
}
