package rss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/deusflow/techfeed/internal/cache"
	"github.com/deusflow/techfeed/internal/metrics"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	feedAccept       = "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html"
	unknownSource    = "Unknown Source"
	maxFeedBytes     = 10 << 20
)

// KnownChecker reports which fingerprints already exist in durable storage.
type KnownChecker interface {
	KnownFingerprints(ctx context.Context, fingerprints []string) (map[string]bool, error)
}

type IngestorConfig struct {
	ItemLimit   int
	Concurrency int
	Timeout     time.Duration
}

// Ingestor fetches feeds and returns the entries the store has not seen.
type Ingestor struct {
	cfg     IngestorConfig
	client  *http.Client
	known   KnownChecker
	seen    *cache.Cache
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewIngestor(cfg IngestorConfig, known KnownChecker, seen *cache.Cache, log *slog.Logger) *Ingestor {
	if cfg.ItemLimit <= 0 {
		cfg.ItemLimit = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if seen == nil {
		seen = cache.New(time.Hour)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		known:   known,
		seen:    seen,
		metrics: metrics.Global,
		log:     log,
	}
}

// Fetch retrieves every source concurrently and returns the unseen items,
// concatenated in source order. A failing source is logged and skipped.
func (in *Ingestor) Fetch(ctx context.Context, sources []Source) []FeedItem {
	results := make([][]FeedItem, len(sources))
	sem := make(chan struct{}, in.cfg.Concurrency)

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			items, err := in.fetchSource(ctx, src)
			if err != nil {
				in.metrics.AddFeedsFailed(1)
				in.log.Warn("feed failed", "feed", src.URL, "error", err)
				return
			}
			in.metrics.AddFeedsFetched(1)
			results[i] = items
		}(i, src)
	}
	wg.Wait()

	var all []FeedItem
	inPass := make(map[string]bool)
	for _, items := range results {
		for _, it := range items {
			if inPass[it.Fingerprint] {
				in.metrics.AddDuplicatesFiltered(1)
				continue
			}
			inPass[it.Fingerprint] = true
			all = append(all, it)
		}
	}

	in.metrics.AddItemsIngested(len(all))
	in.log.Info("feeds processed", "sources", len(sources), "new_items", len(all))
	return all
}

func (in *Ingestor) fetchSource(ctx context.Context, src Source) ([]FeedItem, error) {
	feed, err := in.retrieve(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	items := in.normalize(feed)
	fresh, err := in.filterKnown(ctx, items)
	if err != nil {
		return nil, err
	}
	if len(fresh) > in.cfg.ItemLimit {
		fresh = fresh[:in.cfg.ItemLimit]
	}

	in.log.Debug("feed loaded", "feed", src.URL, "entries", len(items), "new", len(fresh))
	return fresh, nil
}

// retrieve tries a direct GET with browser headers first, then lets gofeed
// fetch the URL itself.
func (in *Ingestor) retrieve(ctx context.Context, url string) (*gofeed.Feed, error) {
	feed, directErr := in.retrieveDirect(ctx, url)
	if directErr == nil {
		return feed, nil
	}
	in.log.Debug("direct fetch failed, falling back", "feed", url, "error", directErr)

	parser := gofeed.NewParser()
	parser.UserAgent = browserUserAgent
	parser.Client = in.client
	feed, err := parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w (direct: %v)", url, err, directErr)
	}
	return feed, nil
}

func (in *Ingestor) retrieveDirect(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", feedAccept)

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, err
	}
	return gofeed.NewParser().Parse(bytes.NewReader(body))
}

func (in *Ingestor) normalize(feed *gofeed.Feed) []FeedItem {
	source := strings.TrimSpace(feed.Title)
	if source == "" {
		source = unknownSource
	}

	converter := md.NewConverter("", true, nil)
	now := time.Now()

	items := make([]FeedItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)
		if title == "" && link == "" {
			continue
		}

		published := now
		if it.PublishedParsed != nil {
			published = *it.PublishedParsed
		} else if it.UpdatedParsed != nil {
			published = *it.UpdatedParsed
		}

		items = append(items, FeedItem{
			Title:       title,
			Content:     itemContent(converter, it),
			Source:      source,
			Link:        link,
			Published:   published,
			Fingerprint: Fingerprint(link, title),
		})
	}
	return items
}

// itemContent prefers the summary, then the full content rendered to
// Markdown, then the full content as plain text.
func itemContent(converter *md.Converter, it *gofeed.Item) string {
	if s := stripHTML(it.Description); s != "" {
		return s
	}
	if it.Content == "" {
		return ""
	}
	if markdown, err := converter.ConvertString(it.Content); err == nil {
		if markdown = strings.TrimSpace(markdown); markdown != "" {
			return markdown
		}
	}
	return stripHTML(it.Content)
}

func stripHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// filterKnown drops items whose fingerprint the store already holds. The
// seen cache short-circuits fingerprints confirmed on an earlier pass.
func (in *Ingestor) filterKnown(ctx context.Context, items []FeedItem) ([]FeedItem, error) {
	fps := make([]string, 0, len(items))
	for _, it := range items {
		fps = append(fps, it.Fingerprint)
	}

	toCheck := in.seen.Unseen(fps)
	known := map[string]bool{}
	if in.known != nil && len(toCheck) > 0 {
		var err error
		known, err = in.known.KnownFingerprints(ctx, toCheck)
		if err != nil {
			return nil, fmt.Errorf("check fingerprints: %w", err)
		}
	}

	var stored []string
	for fp, ok := range known {
		if ok {
			stored = append(stored, fp)
		}
	}
	in.seen.Mark(stored...)

	fresh := make([]FeedItem, 0, len(items))
	for _, it := range items {
		if known[it.Fingerprint] || in.seen.Seen(it.Fingerprint) {
			in.metrics.AddDuplicatesFiltered(1)
			continue
		}
		fresh = append(fresh, it)
	}
	return fresh, nil
}
