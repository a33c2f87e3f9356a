package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state of one document render.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusGuarded     JobStatus = "guarded"
	StatusFanOut      JobStatus = "fan_out"
	StatusAggregating JobStatus = "aggregating"
	StatusPersisted   JobStatus = "persisted"
	StatusCompleted   JobStatus = "completed"
	StatusRejected    JobStatus = "rejected"
	StatusFailed      JobStatus = "failed"
)

// Terminal reports whether no further transitions follow.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// Job tracks one container render job.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	Slug  string `json:"slug"`
	DocID int64  `json:"doc_id,omitempty"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Attempts int       `json:"attempts"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	RunAt       time.Time `json:"run_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	payload []byte // zstd
	errors  []string
	done    chan struct{}
}

// Progress tracks fan-out and aggregation.
type Progress struct {
	SectionsTotal     int      `json:"sections_total"`
	SectionsRendered  int      `json:"sections_rendered"`
	SectionsCancelled int      `json:"sections_cancelled"`
	SummaryRendered   bool     `json:"summary_rendered"`
	Errors            []string `json:"errors"`
}

// NewJob creates a queued job carrying p.
func NewJob(p Payload, runAt time.Time) (*Job, error) {
	data, err := encodePayload(p)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if runAt.IsZero() {
		runAt = now
	}
	return &Job{
		ID:          uuid.NewString(),
		Slug:        p.Slug,
		Status:      StatusQueued,
		Phase:       "queued",
		ContentHash: ContentHashHex([]byte(p.Source)),
		RunAt:       runAt,
		CreatedAt:   now,
		UpdatedAt:   now,
		payload:     data,
		done:        make(chan struct{}),
	}, nil
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs not updated within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Terminal() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically. A terminal status also wakes
// Wait.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status.Terminal() {
		return
	}
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
	if status.Terminal() && j.done != nil {
		close(j.done)
	}
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

func (j *Job) setDocID(id int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.DocID = id
}

func (j *Job) incrAttempts() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Attempts++
	j.UpdatedAt = time.Now()
	return j.Attempts
}

// resetProgress clears the counters of a previous attempt, keeping errors.
func (j *Job) resetProgress() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = Progress{Errors: j.errors}
}

func (j *Job) setSectionsTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.SectionsTotal = n
	j.UpdatedAt = time.Now()
}

func (j *Job) incrSectionsRendered() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.SectionsRendered++
	j.UpdatedAt = time.Now()
}

func (j *Job) incrSectionsCancelled() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.SectionsCancelled++
	j.UpdatedAt = time.Now()
}

func (j *Job) setSummaryRendered() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.SummaryRendered = true
	j.UpdatedAt = time.Now()
}

// Payload decodes the job's payload.
func (j *Job) Payload() (Payload, error) {
	j.mu.Lock()
	data := j.payload
	j.mu.Unlock()
	return decodePayload(data)
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Slug        string    `json:"slug"`
	DocID       int64     `json:"doc_id,omitempty"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Attempts    int       `json:"attempts"`
	Progress    Progress  `json:"progress"`
	ContentHash string    `json:"content_hash,omitempty"`
	RunAt       time.Time `json:"run_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := make([]string, len(j.Progress.Errors))
	copy(errs, j.Progress.Errors)
	p := j.Progress
	p.Errors = errs
	return JobSnapshot{
		ID:          j.ID,
		Slug:        j.Slug,
		DocID:       j.DocID,
		Status:      j.Status,
		Phase:       j.Phase,
		Attempts:    j.Attempts,
		Progress:    p,
		ContentHash: j.ContentHash,
		RunAt:       j.RunAt,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
