package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deusflow/techfeed/internal/api"
	"github.com/deusflow/techfeed/internal/cache"
	"github.com/deusflow/techfeed/internal/cluster"
	"github.com/deusflow/techfeed/internal/config"
	"github.com/deusflow/techfeed/internal/generator"
	"github.com/deusflow/techfeed/internal/lease"
	"github.com/deusflow/techfeed/internal/llm"
	"github.com/deusflow/techfeed/internal/logger"
	"github.com/deusflow/techfeed/internal/pipeline"
	"github.com/deusflow/techfeed/internal/ratelimit"
	"github.com/deusflow/techfeed/internal/rss"
	"github.com/deusflow/techfeed/internal/scheduler"
	"github.com/deusflow/techfeed/internal/scraper"
	"github.com/deusflow/techfeed/internal/storage"
	"github.com/deusflow/techfeed/internal/telegram"
)

// leaseTTL covers one generation including its rate-limit waits.
const leaseTTL = 15 * time.Minute

// app holds the collaborators shared by every command.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   *storage.Store
	seen    *cache.Cache
	budget  *ratelimit.DailyBudget
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logger.Init(cfg.LogLevel)

	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info("store ready", "dialect", store.Dialect())

	a := &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		seen:   cache.New(cfg.SeenCacheTTL),
		budget: ratelimit.NewDailyBudget(cfg.MaxDailyGenerations, logger.Component("budget")),
	}
	a.closers = append(a.closers, func() { store.Close() })
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) harvester() (*pipeline.Harvester, error) {
	sources, err := rss.LoadFeeds(a.cfg.FeedsConfigPath)
	if err != nil {
		return nil, err
	}
	in := rss.NewIngestor(rss.IngestorConfig{
		ItemLimit:   a.cfg.FeedItemLimit,
		Concurrency: a.cfg.FeedConcurrency,
		Timeout:     a.cfg.FeedTimeout,
	}, a.store, a.seen, logger.Component("ingest"))

	return pipeline.NewHarvester(sources, in, cluster.New(a.cfg.ClusterThreshold),
		a.store, a.seen, logger.Component("harvest")), nil
}

func (a *app) drainer(ctx context.Context) (*pipeline.Drainer, error) {
	if err := a.cfg.RequireLLM(); err != nil {
		return nil, err
	}

	completer, err := llm.New(ctx, llm.Options{
		Provider: a.cfg.LLMProvider,
		APIKey:   a.cfg.LLMAPIKey,
		BaseURL:  a.cfg.LLMBaseURL,
		Model:    a.cfg.LLMModel,
	})
	if err != nil {
		return nil, err
	}
	if c, ok := completer.(interface{ Close() }); ok {
		a.closers = append(a.closers, c.Close)
	}

	gen := generator.New(completer, generator.Config{
		Temperature: a.cfg.LLMTemperature,
		MaxTokens:   a.cfg.LLMMaxTokens,
		Retries:     a.cfg.RateLimitRetries,
		DefaultWait: a.cfg.RateLimitDefaultWait,
	}, logger.Component("generator"))

	locker, err := a.locker(ctx)
	if err != nil {
		return nil, err
	}

	opts := pipeline.DrainerOptions{
		MaxFailures: a.cfg.MaxGenerationFailures,
		Locker:      locker,
		Budget:      a.budget,
	}
	if n := telegram.New(a.cfg.TelegramToken, a.cfg.TelegramChatID, a.cfg.SiteURL, logger.Component("telegram")); n != nil {
		opts.Notifier = n
	}

	images := scraper.NewResolver(10*time.Second, logger.Component("images"))
	return pipeline.NewDrainer(a.store, gen, images, opts, logger.Component("drain")), nil
}

// locker claims candidates through Redis when REDIS_URL is set so that
// several drain processes can share one store.
func (a *app) locker(ctx context.Context) (lease.Locker, error) {
	if a.cfg.RedisURL == "" {
		return lease.Noop{}, nil
	}
	client, err := lease.Connect(ctx, a.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { closeRedis(client) })
	a.log.Info("using redis leases for drain claims")
	return lease.NewRedis(client, leaseTTL, logger.Component("lease")), nil
}

func closeRedis(c *redis.Client) {
	if err := c.Close(); err != nil {
		slog.Warn("closing redis", "error", err)
	}
}

func (a *app) scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	h, err := a.harvester()
	if err != nil {
		return nil, err
	}
	d, err := a.drainer(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.New(h, d, a.store, scheduler.Config{
		HarvestInterval:  a.cfg.HarvestInterval,
		DrainMinInterval: a.cfg.DrainMinInterval,
		DrainMaxInterval: a.cfg.DrainMaxInterval,
	}, logger.Component("scheduler")), nil
}

func (a *app) server() *api.Server {
	return api.NewServer(a.store, api.Options{
		CORSOrigins: a.cfg.CORSOrigins,
		SiteURL:     a.cfg.SiteURL,
		Debug:       a.cfg.Debug,
		Budget:      a.budget,
	}, logger.Component("api"))
}
