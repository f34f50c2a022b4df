package service

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestHealthTracking(t *testing.T) {
	h := NewHealth(DefaultHealthConfig())

	// Unknown services are healthy
	if h.IsDegraded("deepwiki") {
		t.Error("expected unknown service to be healthy")
	}
	if _, ok := h.Get("deepwiki"); ok {
		t.Error("expected no record before any attempts")
	}

	h.RecordResult("deepwiki", true, 120*time.Millisecond)

	rec, ok := h.Get("deepwiki")
	if !ok {
		t.Fatal("expected record after success")
	}
	if rec.Degraded {
		t.Error("expected service healthy after success")
	}
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("expected failure count 0, got %d", rec.ConsecutiveFailures)
	}
	if rec.LastSuccess.IsZero() {
		t.Error("expected last success to be set")
	}
	if rec.Attempts != 1 || rec.Successes != 1 {
		t.Errorf("expected 1/1 attempts/successes, got %d/%d", rec.Attempts, rec.Successes)
	}
	if rec.AvgLatencyMs != 120 {
		t.Errorf("expected avg latency 120ms, got %d", rec.AvgLatencyMs)
	}
}

func TestDegradedAfterConsecutiveFailures(t *testing.T) {
	h := NewHealth(DefaultHealthConfig())

	h.RecordResult("web-fetch", false, 0)
	h.RecordResult("web-fetch", false, 0)
	if h.IsDegraded("web-fetch") {
		t.Error("expected service healthy after 2 failures")
	}

	h.RecordResult("web-fetch", false, 0)
	if !h.IsDegraded("web-fetch") {
		t.Error("expected service degraded after 3 consecutive failures")
	}

	rec, _ := h.Get("web-fetch")
	if rec.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", rec.ConsecutiveFailures)
	}
	if rec.DegradedSince.IsZero() {
		t.Error("expected degraded-since timestamp to be set")
	}
}

func TestSuccessClearsDegradation(t *testing.T) {
	h := NewHealth(DefaultHealthConfig())

	for i := 0; i < 3; i++ {
		h.RecordResult("deepwiki", false, 0)
	}
	if !h.IsDegraded("deepwiki") {
		t.Fatal("expected service degraded")
	}

	h.RecordResult("deepwiki", true, 80*time.Millisecond)
	if h.IsDegraded("deepwiki") {
		t.Error("expected one success to restore health")
	}

	rec, _ := h.Get("deepwiki")
	if rec.ConsecutiveFailures != 0 {
		t.Errorf("expected failure count reset, got %d", rec.ConsecutiveFailures)
	}
}

func TestCooldownRestoresHealth(t *testing.T) {
	h := NewHealth(HealthConfig{FailureThreshold: 2, Cooldown: 50 * time.Millisecond})

	h.RecordResult("github-readme", false, 0)
	h.RecordResult("github-readme", false, 0)
	if !h.IsDegraded("github-readme") {
		t.Fatal("expected service degraded")
	}

	time.Sleep(60 * time.Millisecond)
	if h.IsDegraded("github-readme") {
		t.Error("expected cooldown to restore health")
	}

	// The restored service gets a fresh failure budget.
	h.RecordResult("github-readme", false, 0)
	if h.IsDegraded("github-readme") {
		t.Error("expected one failure after restore to leave service healthy")
	}
}

func TestInterleavedSuccessResetsCounter(t *testing.T) {
	h := NewHealth(DefaultHealthConfig())

	h.RecordResult("deepwiki", false, 0)
	h.RecordResult("deepwiki", false, 0)
	h.RecordResult("deepwiki", true, 0)
	h.RecordResult("deepwiki", false, 0)
	h.RecordResult("deepwiki", false, 0)

	if h.IsDegraded("deepwiki") {
		t.Error("expected non-consecutive failures to leave service healthy")
	}
}

func TestTransitionHook(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	h := NewHealth(HealthConfig{FailureThreshold: 2, Cooldown: time.Minute},
		WithTransitionHook(func(id string, degraded bool) {
			mu.Lock()
			calls = append(calls, fmt.Sprintf("%s=%v", id, degraded))
			mu.Unlock()
		}))

	h.RecordResult("web-fetch", false, 0)
	h.RecordResult("web-fetch", false, 0)
	h.RecordResult("web-fetch", true, 0)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %v", len(calls), calls)
	}
	if calls[0] != "web-fetch=true" || calls[1] != "web-fetch=false" {
		t.Errorf("unexpected transition order: %v", calls)
	}
}

func TestConcurrentRecordResult(t *testing.T) {
	h := NewHealth(DefaultHealthConfig())
	services := []string{"deepwiki", "github-readme", "web-fetch"}

	var wg sync.WaitGroup
	for _, id := range services {
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(id string, success bool) {
				defer wg.Done()
				h.RecordResult(id, success, 10*time.Millisecond)
			}(id, i%2 == 0)
		}
	}
	wg.Wait()

	snap := h.Snapshot()
	if len(snap) != len(services) {
		t.Fatalf("expected %d records, got %d", len(services), len(snap))
	}
	for _, id := range services {
		rec := snap[id]
		if rec.Attempts != 50 {
			t.Errorf("%s: expected 50 attempts, got %d", id, rec.Attempts)
		}
		if rec.Successes != 25 {
			t.Errorf("%s: expected 25 successes, got %d", id, rec.Successes)
		}
	}
}

func TestReset(t *testing.T) {
	h := NewHealth(DefaultHealthConfig())
	for i := 0; i < 3; i++ {
		h.RecordResult("deepwiki", false, 0)
	}
	h.Reset("deepwiki")

	if h.IsDegraded("deepwiki") {
		t.Error("expected reset service to be healthy")
	}
	if _, ok := h.Get("deepwiki"); ok {
		t.Error("expected no record after reset")
	}
}
