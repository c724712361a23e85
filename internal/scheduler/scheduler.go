// Package scheduler drives harvesting and draining on their own cadences.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/pipeline"
)

type Harvester interface {
	Harvest(ctx context.Context) (pipeline.HarvestResult, error)
}

type Drainer interface {
	Drain(ctx context.Context) (pipeline.DrainResult, error)
}

type QueueChecker interface {
	HasQueued(ctx context.Context) (bool, error)
}

type Config struct {
	HarvestInterval  time.Duration
	DrainMinInterval time.Duration
	DrainMaxInterval time.Duration
}

type Scheduler struct {
	harvester Harvester
	drainer   Drainer
	queue     QueueChecker
	cfg       Config
	metrics   *metrics.Metrics
	log       *slog.Logger
	jitter    func(n int64) int64
}

func New(h Harvester, d Drainer, q QueueChecker, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		harvester: h,
		drainer:   d,
		queue:     q,
		cfg:       cfg,
		metrics:   metrics.Global,
		log:       log,
		jitter:    rand.Int63n,
	}
}

// Run harvests and drains once in sequence, then keeps both cadences going
// until ctx is done. The harvest and drain loops run independently; each one
// serializes its own ticks.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		"harvest_interval", s.cfg.HarvestInterval,
		"drain_min", s.cfg.DrainMinInterval,
		"drain_max", s.cfg.DrainMaxInterval)

	s.harvest(ctx)
	s.drain(ctx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.harvestLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.drainLoop(ctx)
	}()
	wg.Wait()

	s.log.Info("scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) harvestLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HarvestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.harvestIfIdle(ctx)
		}
	}
}

// drainLoop re-arms its timer with a fresh random delay only after each
// attempt returns.
func (s *Scheduler) drainLoop(ctx context.Context) {
	timer := time.NewTimer(s.nextDrainDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.drain(ctx)
			timer.Reset(s.nextDrainDelay())
		}
	}
}

func (s *Scheduler) nextDrainDelay() time.Duration {
	lo, hi := s.cfg.DrainMinInterval, s.cfg.DrainMaxInterval
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.jitter(int64(hi-lo)+1))
}

func (s *Scheduler) harvestIfIdle(ctx context.Context) {
	busy, err := s.queue.HasQueued(ctx)
	if err != nil {
		s.report("queue check", err)
		return
	}
	if busy {
		s.log.Info("queue not empty, skipping harvest while it drains")
		return
	}
	s.harvest(ctx)
}

func (s *Scheduler) harvest(ctx context.Context) {
	s.guard("harvest", func() error {
		_, err := s.harvester.Harvest(ctx)
		return err
	})
}

func (s *Scheduler) drain(ctx context.Context) {
	s.guard("drain", func() error {
		res, err := s.drainer.Drain(ctx)
		if err == nil {
			s.log.Debug("drain tick finished", "outcome", res.Outcome, "article_id", res.ArticleID)
		}
		return err
	})
}

// guard runs one tick and turns panics into logged errors.
func (s *Scheduler) guard(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.report(name, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		s.report(name, err)
	}
}

func (s *Scheduler) report(name string, err error) {
	s.metrics.SetError(fmt.Sprintf("%s: %v", name, err))
	s.log.Error(name+" failed", "error", err)
}
