package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deusflow/techfeed/internal/metrics"
	"github.com/deusflow/techfeed/internal/pipeline"
)

type countingHarvester struct{ calls int32 }

func (h *countingHarvester) Harvest(context.Context) (pipeline.HarvestResult, error) {
	atomic.AddInt32(&h.calls, 1)
	return pipeline.HarvestResult{}, nil
}

type countingDrainer struct {
	calls    int32
	inFlight int32
	overlap  int32
	panicky  bool
}

func (d *countingDrainer) Drain(context.Context) (pipeline.DrainResult, error) {
	if atomic.AddInt32(&d.inFlight, 1) > 1 {
		atomic.StoreInt32(&d.overlap, 1)
	}
	defer atomic.AddInt32(&d.inFlight, -1)

	n := atomic.AddInt32(&d.calls, 1)
	time.Sleep(2 * time.Millisecond)
	if d.panicky && n%2 == 1 {
		panic("boom")
	}
	return pipeline.DrainResult{Outcome: pipeline.OutcomeEmpty}, errors.New("transient")
}

type queueState bool

func (q queueState) HasQueued(context.Context) (bool, error) { return bool(q), nil }

func run(t *testing.T, s *Scheduler, d time.Duration) {
	t.Helper()
	s.metrics = metrics.New()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	if err := s.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v", err)
	}
}

var fast = Config{HarvestInterval: 10 * time.Millisecond, DrainMinInterval: 5 * time.Millisecond, DrainMaxInterval: 10 * time.Millisecond}

func TestRunHarvestsWhenQueueIsEmpty(t *testing.T) {
	h, d := &countingHarvester{}, &countingDrainer{}
	run(t, New(h, d, queueState(false), fast, nil), 120*time.Millisecond)

	if atomic.LoadInt32(&h.calls) < 3 {
		t.Errorf("harvest calls = %d", h.calls)
	}
	if atomic.LoadInt32(&d.calls) < 3 {
		t.Errorf("drain calls = %d", d.calls)
	}
	if atomic.LoadInt32(&d.overlap) != 0 {
		t.Error("drain attempts overlapped")
	}
}

func TestRunSkipsHarvestWhileQueued(t *testing.T) {
	h, d := &countingHarvester{}, &countingDrainer{}
	run(t, New(h, d, queueState(true), fast, nil), 80*time.Millisecond)

	if got := atomic.LoadInt32(&h.calls); got != 1 {
		t.Errorf("only the startup harvest should run, got %d", got)
	}
}

func TestRunSurvivesPanics(t *testing.T) {
	h, d := &countingHarvester{}, &countingDrainer{panicky: true}
	s := New(h, d, queueState(false), fast, nil)
	run(t, s, 100*time.Millisecond)

	if atomic.LoadInt32(&d.calls) < 3 {
		t.Errorf("drain loop stopped after a panic: %d calls", d.calls)
	}
	if s.metrics.Healthy() {
		t.Error("errors should mark the process unhealthy")
	}
}

func TestNextDrainDelayWithinBounds(t *testing.T) {
	s := New(nil, nil, nil, Config{DrainMinInterval: 3 * time.Minute, DrainMaxInterval: 10 * time.Minute}, nil)
	for i := 0; i < 200; i++ {
		d := s.nextDrainDelay()
		if d < 3*time.Minute || d > 10*time.Minute {
			t.Fatalf("delay %v out of range", d)
		}
	}

	s.jitter = func(n int64) int64 { return n - 1 }
	if got := s.nextDrainDelay(); got != 10*time.Minute {
		t.Errorf("max jitter gives %v", got)
	}

	s.cfg.DrainMaxInterval = s.cfg.DrainMinInterval
	if got := s.nextDrainDelay(); got != 3*time.Minute {
		t.Errorf("fixed interval gives %v", got)
	}
}
