package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Harvest counters
	FeedsFetched       int64
	FeedsFailed        int64
	ItemsIngested      int64
	DuplicatesFiltered int64
	ClustersFormed     int64
	CandidatesQueued   int64

	// Drain counters
	ArticlesPublished  int64
	GenerationFailures int64
	RateLimitRetries   int64
	ImagesResolved     int64
	NoticesSent        int64

	// Timings
	LastDrainDuration    time.Duration
	AverageDrainDuration time.Duration
	TotalDrainDuration   time.Duration
	DrainCount           int64

	// Status
	LastHarvestTime time.Time
	LastDrainTime   time.Time
	LastErrorTime   time.Time
	LastError       string
	IsHealthy       bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

func (m *Metrics) add(field *int64, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field += int64(n)
}

func (m *Metrics) AddFeedsFetched(n int)       { m.add(&m.FeedsFetched, n) }
func (m *Metrics) AddFeedsFailed(n int)        { m.add(&m.FeedsFailed, n) }
func (m *Metrics) AddItemsIngested(n int)      { m.add(&m.ItemsIngested, n) }
func (m *Metrics) AddDuplicatesFiltered(n int) { m.add(&m.DuplicatesFiltered, n) }
func (m *Metrics) AddClustersFormed(n int)     { m.add(&m.ClustersFormed, n) }
func (m *Metrics) IncrementCandidatesQueued()  { m.add(&m.CandidatesQueued, 1) }
func (m *Metrics) IncrementPublished()         { m.add(&m.ArticlesPublished, 1) }
func (m *Metrics) IncrementGenerationFailure() { m.add(&m.GenerationFailures, 1) }
func (m *Metrics) IncrementRateLimitRetries()  { m.add(&m.RateLimitRetries, 1) }
func (m *Metrics) IncrementImagesResolved()    { m.add(&m.ImagesResolved, 1) }
func (m *Metrics) IncrementNoticesSent()       { m.add(&m.NoticesSent, 1) }

func (m *Metrics) RecordDrainTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastDrainDuration = duration
	m.TotalDrainDuration += duration
	m.DrainCount++
	m.LastDrainTime = time.Now()

	if m.DrainCount > 0 {
		m.AverageDrainDuration = m.TotalDrainDuration / time.Duration(m.DrainCount)
	}
}

func (m *Metrics) SetLastHarvest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastHarvestTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"feeds_fetched":          m.FeedsFetched,
		"feeds_failed":           m.FeedsFailed,
		"items_ingested":         m.ItemsIngested,
		"duplicates_filtered":    m.DuplicatesFiltered,
		"clusters_formed":        m.ClustersFormed,
		"candidates_queued":      m.CandidatesQueued,
		"articles_published":     m.ArticlesPublished,
		"generation_failures":    m.GenerationFailures,
		"rate_limit_retries":     m.RateLimitRetries,
		"images_resolved":        m.ImagesResolved,
		"notices_sent":           m.NoticesSent,
		"last_drain_time_ms":     m.LastDrainDuration.Milliseconds(),
		"average_drain_time_ms":  m.AverageDrainDuration.Milliseconds(),
		"last_harvest_time":      formatTime(m.LastHarvestTime),
		"last_drain_time":        formatTime(m.LastDrainTime),
		"last_error_time":        formatTime(m.LastErrorTime),
		"last_error":             m.LastError,
		"is_healthy":             m.IsHealthy,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
