package ratelimit

import (
	"testing"
	"time"
)

func TestDailyBudget(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	b := NewDailyBudget(2, nil)
	b.now = func() time.Time { return now }
	b.resetTime = now.Add(24 * time.Hour)

	for i := 0; i < 2; i++ {
		if !b.CanGenerate() {
			t.Fatalf("generation %d should fit", i)
		}
		if err := b.Use(); err != nil {
			t.Fatal(err)
		}
	}
	if b.CanGenerate() {
		t.Fatal("budget should be exhausted")
	}
	if err := b.Use(); err == nil {
		t.Fatal("Use should fail once exhausted")
	}

	now = now.Add(25 * time.Hour)
	if !b.CanGenerate() {
		t.Fatal("budget should reset after 24h")
	}
}

func TestDailyBudgetUnlimited(t *testing.T) {
	b := NewDailyBudget(0, nil)
	for i := 0; i < 100; i++ {
		if err := b.Use(); err != nil {
			t.Fatal(err)
		}
	}
	if !b.CanGenerate() {
		t.Fatal("zero limit means unlimited")
	}
}
