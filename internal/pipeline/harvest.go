// Package pipeline implements the two halves of the article pipeline:
// harvesting feeds into queued candidates and draining the queue one
// candidate at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/cache"
	"github.com/deusflow/techfeed/internal/classify"
	"github.com/deusflow/techfeed/internal/cluster"
	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/rss"
	"github.com/deusflow/techfeed/internal/storage"
)

// Store is the part of the queue store the pipeline needs.
type Store interface {
	Enqueue(ctx context.Context, a *article.Article) error
	HasQueued(ctx context.Context) (bool, error)
	PeekOldestQueued(ctx context.Context) (*article.Article, error)
	PromoteToPublished(ctx context.Context, id int64, g article.Generated) error
	RecordFailure(ctx context.Context, id int64, reason string, maxFailures int) (article.Status, error)
	GetByID(ctx context.Context, id int64) (*article.Article, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, sources []rss.Source) []rss.FeedItem
}

type HarvestResult struct {
	Items      int
	Clusters   int
	Queued     int
	Duplicates int
	Failed     int
}

type Harvester struct {
	sources   []rss.Source
	fetcher   Fetcher
	clusterer *cluster.Clusterer
	store     Store
	seen      *cache.Cache
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewHarvester(sources []rss.Source, fetcher Fetcher, clusterer *cluster.Clusterer, store Store, seen *cache.Cache, log *slog.Logger) *Harvester {
	if log == nil {
		log = slog.Default()
	}
	return &Harvester{
		sources:   sources,
		fetcher:   fetcher,
		clusterer: clusterer,
		store:     store,
		seen:      seen,
		metrics:   metrics.Global,
		log:       log,
	}
}

// Harvest runs one fetch, cluster, classify and enqueue pass. A cluster that
// fails to enqueue does not stop the others; a duplicate fingerprint is not a
// failure.
func (h *Harvester) Harvest(ctx context.Context) (HarvestResult, error) {
	h.log.Info("starting harvest", "sources", len(h.sources))

	items := h.fetcher.Fetch(ctx, h.sources)
	clusters := h.clusterer.Group(items)
	h.metrics.AddClustersFormed(len(clusters))

	res := HarvestResult{Items: len(items), Clusters: len(clusters)}
	var firstErr error

	for _, c := range clusters {
		cand := candidateFromCluster(c)

		err := h.store.Enqueue(ctx, cand)

		switch {
		case errors.Is(err, storage.ErrDuplicate):
			h.markSeen(c)
			res.Duplicates++
			h.metrics.AddDuplicatesFiltered(1)
			h.log.Debug("candidate already harvested", "fingerprint", cand.Fingerprint)
		case err != nil:
			res.Failed++
			if firstErr == nil {
				firstErr = err
			}
			h.log.Error("failed to queue candidate", "fingerprint", cand.Fingerprint, "error", err)
		default:
			h.markSeen(c)
			res.Queued++
			h.metrics.IncrementCandidatesQueued()
			h.log.Info("queued candidate", "article_id", cand.ID, "title", cand.Title,
				"domain", cand.Domain, "cluster_size", len(c.Items))
		}
	}

	h.metrics.SetLastHarvest()
	h.log.Info("harvest completed", "items", res.Items, "clusters", res.Clusters,
		"queued", res.Queued, "duplicates", res.Duplicates)

	if firstErr != nil {
		return res, fmt.Errorf("%d of %d clusters not queued: %w", res.Failed, res.Clusters, firstErr)
	}
	return res, nil
}

// markSeen remembers every member of c so the next pass does not offer the
// non-anchor items as new stories. Only clusters the store holds are marked;
// a failed insert must be offered again.
func (h *Harvester) markSeen(c cluster.Cluster) {
	if h.seen == nil {
		return
	}
	for _, it := range c.Items {
		h.seen.Mark(it.Fingerprint)
	}
}

// candidateFromCluster builds the queued record for a cluster. The anchor
// decides identity and domain; every member contributes to the draft context.
func candidateFromCluster(c cluster.Cluster) *article.Article {
	anchor := c.Anchor()

	sources := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Link != "" {
			sources = append(sources, it.Link)
		}
	}

	return &article.Article{
		Fingerprint:     anchor.Fingerprint,
		Slug:            article.TempSlug(anchor.Fingerprint),
		Status:          article.StatusQueued,
		Title:           anchor.Title,
		Summary:         article.PlaceholderSummary,
		DraftContext:    DraftContext(c.Items),
		Domain:          classify.Classify(anchor.Title, anchor.Content),
		Tags:            []string{},
		KeyTakeaways:    []string{},
		OriginalSources: sources,
		Source:          article.SourceLabel,
		SourceURL:       anchor.Link,
		PublishedAt:     anchor.Published,
	}
}

// DraftContext concatenates the title, content and source of every item.
func DraftContext(items []rss.FeedItem) string {
	blocks := make([]string, 0, len(items))
	for _, it := range items {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nContent: %s\nSource: %s", it.Title, it.Content, it.Source))
	}
	return strings.Join(blocks, "\n\n")
}
