package pipeline

import (
	"testing"
	"time"
)

func TestContentHashHex_Consistency(t *testing.T) {
	data := []byte("hello world")
	h1 := ContentHashHex(data)
	h2 := ContentHashHex(data)
	if h1 != h2 {
		t.Errorf("expected identical hashes, got %q and %q", h1, h2)
	}
	// SHA-256 of "hello world" is well-known.
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if h1 != want {
		t.Errorf("expected hash %q, got %q", want, h1)
	}
}

func TestNewJob(t *testing.T) {
	p := Payload{Slug: "post", Source: "# A\n\ntext", Summary: "short"}
	job, err := NewJob(p, time.Time{})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.Status != StatusQueued || job.Slug != "post" || job.ID == "" {
		t.Errorf("unexpected job %+v", job.Snapshot())
	}
	if job.RunAt.IsZero() {
		t.Error("expected zero run time to default to now")
	}
	if job.ContentHash != ContentHashHex([]byte(p.Source)) {
		t.Errorf("unexpected content hash %q", job.ContentHash)
	}

	got, err := job.Payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got != p {
		t.Errorf("payload mismatch: got %+v, want %+v", got, p)
	}
}

func TestJob_PayloadIsCompressed(t *testing.T) {
	src := ""
	for range 500 {
		src += "the same line of markdown over and over\n"
	}
	job, err := NewJob(Payload{Slug: "big", Source: src}, time.Time{})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if len(job.payload) >= len(src)/4 {
		t.Errorf("expected compressed payload, got %d bytes for %d", len(job.payload), len(src))
	}
}

func TestJob_StateTransitions(t *testing.T) {
	job := &Job{
		ID:        "test-1",
		Status:    StatusQueued,
		Phase:     "queued",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	transitions := []struct {
		status JobStatus
		phase  string
	}{
		{StatusGuarded, "guarded"},
		{StatusFanOut, "fan_out"},
		{StatusAggregating, "aggregating"},
		{StatusPersisted, "persisted"},
		{StatusCompleted, "done"},
	}

	for _, tr := range transitions {
		before := job.UpdatedAt
		// Small sleep to ensure time difference is detectable.
		time.Sleep(time.Millisecond)
		job.SetStatus(tr.status, tr.phase)

		if job.Status != tr.status {
			t.Errorf("expected status %q, got %q", tr.status, job.Status)
		}
		if job.Phase != tr.phase {
			t.Errorf("expected phase %q, got %q", tr.phase, job.Phase)
		}
		if !job.UpdatedAt.After(before) {
			t.Errorf("expected UpdatedAt to advance after SetStatus(%q)", tr.status)
		}
	}
}

func TestJob_TerminalStatusSticks(t *testing.T) {
	job, err := NewJob(Payload{Slug: "x"}, time.Time{})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	job.SetStatus(StatusRejected, "guard")
	select {
	case <-job.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	job.SetStatus(StatusCompleted, "done")
	if job.Status != StatusRejected {
		t.Errorf("expected terminal status to stick, got %q", job.Status)
	}
}

func TestJob_AddError(t *testing.T) {
	job := &Job{ID: "err-test", UpdatedAt: time.Now()}
	job.AddError("section 3 cancelled")
	job.AddError("section 7 cancelled")

	snap := job.Snapshot()
	if len(snap.Progress.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(snap.Progress.Errors))
	}
	if snap.Progress.Errors[0] != "section 3 cancelled" {
		t.Errorf("expected first error %q, got %q", "section 3 cancelled", snap.Progress.Errors[0])
	}
}

func TestJob_Progress(t *testing.T) {
	job := &Job{ID: "progress-test", UpdatedAt: time.Now()}
	job.setSectionsTotal(4)
	job.incrSectionsRendered()
	job.incrSectionsRendered()
	job.incrSectionsRendered()
	job.incrSectionsCancelled()
	job.setSummaryRendered()

	snap := job.Snapshot()
	want := Progress{SectionsTotal: 4, SectionsRendered: 3, SectionsCancelled: 1, SummaryRendered: true}
	if snap.Progress.SectionsTotal != want.SectionsTotal ||
		snap.Progress.SectionsRendered != want.SectionsRendered ||
		snap.Progress.SectionsCancelled != want.SectionsCancelled ||
		snap.Progress.SummaryRendered != want.SummaryRendered {
		t.Errorf("got %+v, want %+v", snap.Progress, want)
	}

	job.AddError("kept")
	job.resetProgress()
	snap = job.Snapshot()
	if snap.Progress.SectionsRendered != 0 || len(snap.Progress.Errors) != 1 {
		t.Errorf("reset should clear counters and keep errors, got %+v", snap.Progress)
	}
}

func TestJob_SnapshotErrorsNotNil(t *testing.T) {
	// Snapshot should always return non-nil errors slice.
	job := &Job{ID: "snap-test", UpdatedAt: time.Now()}
	snap := job.Snapshot()
	if snap.Progress.Errors == nil {
		t.Error("expected non-nil errors slice in snapshot")
	}
	if len(snap.Progress.Errors) != 0 {
		t.Errorf("expected empty errors, got %d", len(snap.Progress.Errors))
	}
}

func TestJobStore_PutGet(t *testing.T) {
	store := NewJobStore(time.Hour)
	job := &Job{ID: "store-1", UpdatedAt: time.Now()}
	store.Put(job)

	got := store.Get("store-1")
	if got == nil {
		t.Fatal("expected to get job back")
	}
	if got.ID != "store-1" {
		t.Errorf("expected ID %q, got %q", "store-1", got.ID)
	}
	if store.Get("nonexistent") != nil {
		t.Error("expected nil for missing job")
	}
}

func TestJobStore_TTLCleanup(t *testing.T) {
	store := NewJobStore(50 * time.Millisecond)

	expired := &Job{ID: "old", Status: StatusCompleted, UpdatedAt: time.Now()}
	running := &Job{ID: "running", Status: StatusAggregating, UpdatedAt: time.Now()}
	store.Put(expired)
	store.Put(running)

	// Wait for the TTL to pass.
	time.Sleep(100 * time.Millisecond)

	fresh := &Job{ID: "new", Status: StatusCompleted, UpdatedAt: time.Now()}
	store.Put(fresh)

	store.Cleanup()

	if store.Get("old") != nil {
		t.Error("expected expired job to be cleaned up")
	}
	if store.Get("running") == nil {
		t.Error("expected unfinished job to survive cleanup")
	}
	if store.Get("new") == nil {
		t.Error("expected fresh job to survive cleanup")
	}
	if store.Len() != 2 {
		t.Errorf("expected 2 jobs, got %d", store.Len())
	}
}
