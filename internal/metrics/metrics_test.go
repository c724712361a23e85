package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestCountersAndStats(t *testing.T) {
	m := New()
	m.AddFeedsFetched(3)
	m.AddFeedsFailed(1)
	m.AddDuplicatesFiltered(4)
	m.IncrementCandidatesQueued()
	m.IncrementCandidatesQueued()
	m.IncrementPublished()

	stats := m.GetStats()
	if stats["feeds_fetched"] != int64(3) {
		t.Errorf("feeds_fetched = %v", stats["feeds_fetched"])
	}
	if stats["candidates_queued"] != int64(2) {
		t.Errorf("candidates_queued = %v", stats["candidates_queued"])
	}
	if stats["last_harvest_time"] != "" {
		t.Errorf("last_harvest_time should be empty before any harvest")
	}
}

func TestHealthFollowsErrors(t *testing.T) {
	m := New()
	if !m.Healthy() {
		t.Fatal("new metrics should be healthy")
	}
	m.SetError(errors.New("boom").Error())
	if m.Healthy() {
		t.Fatal("expected unhealthy after error")
	}
	m.SetLastHarvest()
	if !m.Healthy() {
		t.Fatal("a successful harvest should restore health")
	}
}

func TestRecordDrainTimeAverages(t *testing.T) {
	m := New()
	m.RecordDrainTime(100 * time.Millisecond)
	m.RecordDrainTime(300 * time.Millisecond)
	if m.AverageDrainDuration != 200*time.Millisecond {
		t.Errorf("average = %v", m.AverageDrainDuration)
	}
}
