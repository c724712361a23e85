package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deusflow/techfeed/internal/article"
	"github.com/deusflow/techfeed/internal/cache"
	"github.com/deusflow/techfeed/internal/cluster"
	"github.com/deusflow/techfeed/internal/generator"
	"github.com/deusflow/techfeed/internal/llm"
	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/ratelimit"
	"github.com/deusflow/techfeed/internal/rss"
	"github.com/deusflow/techfeed/internal/storage"
)

const generated = `{
  "title": "Nvidia Unveils Blackwell GPU",
  "summary": "Nvidia announced its Blackwell GPU for data centers.",
  "content": "## Introduction\n\nNvidia has unveiled its new GPU.",
  "key_takeaways": ["Blackwell targets data centers"],
  "tags": ["nvidia", "gpu"]
}`

var headlines = []string{
	"Nvidia unveils Blackwell GPU for data centers",
	"Xbox announces new handheld console",
	"Nvidia unveils Blackwell GPU for AI data centers",
	"Xbox announces new handheld gaming console",
	"Nvidia unveils new Blackwell GPU for data centers",
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>Wire</title>`)
		for i, h := range headlines {
			fmt.Fprintf(&b, "<item><title>%s</title><link>https://wire.example/%d</link>"+
				"<description>Story %d about %s</description>"+
				"<pubDate>Mon, 06 May 2024 10:00:00 GMT</pubDate></item>", h, i, i, h)
		}
		b.WriteString(`</channel></rss>`)
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(b.String()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newHarvester(t *testing.T, store *storage.Store) *Harvester {
	return newHarvesterWith(t, store, store)
}

func newHarvesterWith(t *testing.T, known rss.KnownChecker, store Store) *Harvester {
	srv := feedServer(t)
	seen := cache.New(time.Hour)
	in := rss.NewIngestor(rss.IngestorConfig{ItemLimit: 10, Timeout: 5 * time.Second}, known, seen, nil)
	h := NewHarvester([]rss.Source{{Category: "tech", URL: srv.URL}}, in, cluster.New(0.5), store, seen, nil)
	h.metrics = metrics.New()
	return h
}

// flakyStore fails every Enqueue while down is set.
type flakyStore struct {
	*storage.Store
	down bool
}

func (f *flakyStore) Enqueue(ctx context.Context, a *article.Article) error {
	if f.down {
		return errors.New("connection reset")
	}
	return f.Store.Enqueue(ctx, a)
}

type completerFunc func(context.Context, llm.Request) (string, error)

func (f completerFunc) Complete(ctx context.Context, r llm.Request) (string, error) { return f(ctx, r) }

func respond(s string) llm.Completer {
	return completerFunc(func(context.Context, llm.Request) (string, error) { return s, nil })
}

type fixedImage string

func (f fixedImage) Resolve(context.Context, string) string { return string(f) }

type recordingNotifier struct{ got []*article.Article }

func (r *recordingNotifier) Announce(_ context.Context, a *article.Article) error {
	r.got = append(r.got, a)
	return nil
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, int64) (func(), bool, error) { return func() {}, false, nil }

func newDrainer(store Store, c llm.Completer, opts DrainerOptions) *Drainer {
	gen := generator.New(c, generator.Config{MaxTokens: 2048}, nil)
	d := NewDrainer(store, gen, fixedImage("https://img.example/og.png"), opts, nil)
	d.metrics = metrics.New()
	return d
}

func TestHarvestThenDrainPublishesOldest(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	res, err := newHarvester(t, store).Harvest(ctx)
	if err != nil {
		t.Fatalf("Harvest: %v", err)
	}
	if res.Items != 5 || res.Clusters != 2 || res.Queued != 2 {
		t.Fatalf("harvest result = %+v", res)
	}

	queued, err := store.ListByStatus(ctx, article.StatusQueued, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 2 {
		t.Fatalf("expected 2 queued records, got %d", len(queued))
	}

	notifier := &recordingNotifier{}
	out, err := newDrainer(store, respond(generated), DrainerOptions{MaxFailures: 5, Notifier: notifier}).Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if out.Outcome != OutcomePublished {
		t.Fatalf("outcome = %s", out.Outcome)
	}

	a, err := store.GetByID(ctx, out.ArticleID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != article.StatusPublished || a.Title != "Nvidia Unveils Blackwell GPU" {
		t.Errorf("published record = %+v", a)
	}
	if a.ImageURL != "https://img.example/og.png" || a.DraftContext != "" {
		t.Errorf("image=%q draft=%q", a.ImageURL, a.DraftContext)
	}
	if len(a.OriginalSources) != 3 {
		t.Errorf("original sources = %v", a.OriginalSources)
	}
	if len(notifier.got) != 1 || notifier.got[0].ID != a.ID {
		t.Errorf("notices = %v", notifier.got)
	}

	remaining, err := store.ListByStatus(ctx, article.StatusQueued, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 1 || !strings.HasPrefix(remaining[0].Title, "Xbox") {
		t.Errorf("remaining queue = %+v", remaining)
	}
}

func TestHarvestSecondPassQueuesNothing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	h := newHarvester(t, store)

	if _, err := h.Harvest(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := h.Harvest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued != 0 {
		t.Errorf("second pass queued %d", res.Queued)
	}
}

func TestHarvestRetriesClustersAfterFailedInsert(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: openStore(t), down: true}
	h := newHarvesterWith(t, store.Store, store)

	res, err := h.Harvest(ctx)
	if err == nil {
		t.Fatal("expected an error while the store is down")
	}
	if res.Failed != 2 || res.Queued != 0 {
		t.Fatalf("first pass = %+v", res)
	}

	store.down = false
	res, err = h.Harvest(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Items != 5 || res.Queued != 2 {
		t.Errorf("second pass = %+v", res)
	}
}

func TestCandidateFromCluster(t *testing.T) {
	items := []rss.FeedItem{
		{Title: "GPU launch", Content: "new gpu and chip", Source: "Wire", Link: "https://a.example", Fingerprint: "fp1"},
		{Title: "GPU launch again", Content: "more", Source: "Other", Link: "https://b.example", Fingerprint: "fp2"},
	}
	c := cluster.New(0.5).Group(items)[0]
	a := candidateFromCluster(c)

	if a.Fingerprint != "fp1" || a.Slug != article.TempSlug("fp1") || a.Status != article.StatusQueued {
		t.Errorf("identity = %+v", a)
	}
	if a.Summary != article.PlaceholderSummary || a.Source != article.SourceLabel || a.SourceURL != "https://a.example" {
		t.Errorf("placeholder fields = %+v", a)
	}
	if a.Domain != "Hardware" {
		t.Errorf("domain = %q", a.Domain)
	}
	want := "Title: GPU launch\nContent: new gpu and chip\nSource: Wire\n\n" +
		"Title: GPU launch again\nContent: more\nSource: Other"
	if a.DraftContext != want {
		t.Errorf("draft context = %q", a.DraftContext)
	}
}

func TestDrainMalformedOutputLeavesRecordQueued(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if _, err := newHarvester(t, store).Harvest(ctx); err != nil {
		t.Fatal(err)
	}
	before, err := store.PeekOldestQueued(ctx)
	if err != nil || before == nil {
		t.Fatalf("peek: %v %v", before, err)
	}

	out, err := newDrainer(store, respond("I cannot answer that"), DrainerOptions{MaxFailures: 5}).Drain(ctx)
	if !errors.Is(err, generator.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
	if out.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s", out.Outcome)
	}

	after, err := store.GetByID(ctx, before.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Status != article.StatusQueued || after.Title != before.Title || after.DraftContext != before.DraftContext {
		t.Errorf("record changed: %+v", after)
	}
	if after.FailureCount != 1 {
		t.Errorf("failure count = %d", after.FailureCount)
	}
}

func TestDrainDeadLettersAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if _, err := newHarvester(t, store).Harvest(ctx); err != nil {
		t.Fatal(err)
	}

	out, err := newDrainer(store, respond("{}"), DrainerOptions{MaxFailures: 1}).Drain(ctx)
	if err == nil || out.Outcome != OutcomeDeadLettered {
		t.Fatalf("outcome=%s err=%v", out.Outcome, err)
	}
	a, _ := store.GetByID(ctx, out.ArticleID)
	if a.Status != article.StatusFailed {
		t.Errorf("status = %s", a.Status)
	}
}

func TestDrainEmptyQueue(t *testing.T) {
	out, err := newDrainer(openStore(t), respond(generated), DrainerOptions{}).Drain(context.Background())
	if err != nil || out.Outcome != OutcomeEmpty {
		t.Fatalf("outcome=%s err=%v", out.Outcome, err)
	}
}

func TestDrainSkipsWhenOverBudgetOrClaimed(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if _, err := newHarvester(t, store).Harvest(ctx); err != nil {
		t.Fatal(err)
	}

	called := false
	c := completerFunc(func(context.Context, llm.Request) (string, error) {
		called = true
		return generated, nil
	})

	budget := ratelimit.NewDailyBudget(1, nil)
	if err := budget.Use(); err != nil {
		t.Fatal(err)
	}
	out, err := newDrainer(store, c, DrainerOptions{Budget: budget}).Drain(ctx)
	if err != nil || out.Outcome != OutcomeOverBudget {
		t.Errorf("budget: outcome=%s err=%v", out.Outcome, err)
	}

	out, err = newDrainer(store, c, DrainerOptions{Locker: busyLocker{}}).Drain(ctx)
	if err != nil || out.Outcome != OutcomeClaimed {
		t.Errorf("lease: outcome=%s err=%v", out.Outcome, err)
	}
	if called {
		t.Error("generator should not run when the drain is skipped")
	}
}
