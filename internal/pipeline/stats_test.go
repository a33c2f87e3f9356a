package pipeline

import (
	"testing"
	"time"
)

func TestRenderStats_Percentiles(t *testing.T) {
	t.Parallel()
	stats := NewRenderStats(time.Hour)
	for _, ms := range []int{100, 200, 300, 400, 500} {
		stats.Record(time.Duration(ms)*time.Millisecond, false)
	}
	stats.Record(time.Second, true)

	snap := stats.Snapshot()
	want := LatencySnapshot{
		Completed: 5,
		Failed:    1,
		MinMs:     100,
		MaxMs:     500,
		AvgMs:     300,
		P50Ms:     300,
		P95Ms:     480,
		P99Ms:     496,
	}
	if snap != want {
		t.Errorf("snapshot = %+v, want %+v", snap, want)
	}
}

func TestRenderStats_PrunesOutsideWindow(t *testing.T) {
	t.Parallel()
	clock := time.Unix(1_700_000_000, 0)
	stats := NewRenderStats(time.Minute)
	stats.now = func() time.Time { return clock }

	stats.Record(100*time.Millisecond, false)
	clock = clock.Add(2 * time.Minute)
	if snap := stats.Snapshot(); snap.Completed != 0 {
		t.Fatalf("expected expired sample pruned, got %+v", snap)
	}

	stats.Record(200*time.Millisecond, false)
	snap := stats.Snapshot()
	if snap.Completed != 1 || snap.MinMs != 200 || snap.MaxMs != 200 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestRenderStats_ClampsNegative(t *testing.T) {
	t.Parallel()
	stats := NewRenderStats(0)
	stats.Record(-time.Second, false)
	if snap := stats.Snapshot(); snap.Completed != 1 || snap.MaxMs != 0 {
		t.Errorf("expected clamped sample, got %+v", snap)
	}
}
