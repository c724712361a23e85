package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DailyBudget caps the number of article generations per 24h window.
// A limit of 0 means unlimited.
type DailyBudget struct {
	mu        sync.Mutex
	used      int
	limit     int
	rejected  int
	resetTime time.Time
	now       func() time.Time
	log       *slog.Logger
}

func NewDailyBudget(limit int, log *slog.Logger) *DailyBudget {
	if log == nil {
		log = slog.Default()
	}
	b := &DailyBudget{limit: limit, now: time.Now, log: log}
	b.resetTime = b.now().Add(24 * time.Hour)
	return b
}

// CanGenerate reports whether another generation fits in the window.
func (b *DailyBudget) CanGenerate() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if b.limit > 0 && b.used >= b.limit {
		b.rejected++
		b.log.Warn("daily generation budget reached", "used", b.used, "limit", b.limit)
		return false
	}
	return true
}

// Use records one generation attempt.
func (b *DailyBudget) Use() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkReset()

	if b.limit > 0 && b.used >= b.limit {
		return fmt.Errorf("daily generation budget exceeded")
	}
	b.used++
	b.log.Debug("generation budget", "used", b.used, "limit", b.limit)
	return nil
}

func (b *DailyBudget) GetStats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()

	return map[string]interface{}{
		"generations_used":     b.used,
		"generations_limit":    b.limit,
		"generations_rejected": b.rejected,
		"reset_time":           b.resetTime.Format(time.RFC3339),
	}
}

// checkReset resets counters if reset time has passed
func (b *DailyBudget) checkReset() {
	now := b.now()
	if now.After(b.resetTime) {
		b.log.Info("resetting daily generation budget", "used", b.used, "rejected", b.rejected)
		b.used = 0
		b.rejected = 0
		b.resetTime = now.Add(24 * time.Hour)
	}
}
