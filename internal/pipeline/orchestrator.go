package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dgallion1/docpress/internal/config"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("orchestrator stopped")
)

// Orchestrator is the scheduling backend: it accepts render payloads with a
// desired run time and hands each job to exactly one worker.
type Orchestrator struct {
	jobs    *JobStore
	queue   chan *Job
	worker  *Worker
	log     *slog.Logger
	workers int

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates the pipeline. Call Start to run workers.
func NewOrchestrator(cfg config.Config, w *Worker, log *slog.Logger) *Orchestrator {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = max(1, runtime.GOMAXPROCS(0))
	}
	return &Orchestrator{
		jobs:    NewJobStore(cfg.JobTTL),
		queue:   make(chan *Job, cfg.MaxQueueSize),
		worker:  w,
		log:     log,
		workers: workers,
		timers:  make(map[string]*time.Timer),
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.workers {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					o.worker.Process(workerCtx, job)
				}
			}
		}()
	}

	// Start job store cleanup.
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
	o.log.Info("render workers started", "workers", o.workers, "queue", cap(o.queue))
}

// Stop cancels pending timers and running jobs and waits for workers. Jobs
// that never reached a worker end failed in phase "stopped".
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	var pending []*Job
	for id, t := range o.timers {
		if t.Stop() {
			if job := o.jobs.Get(id); job != nil {
				pending = append(pending, job)
			}
		}
		delete(o.timers, id)
	}
	close(o.queue)
	o.mu.Unlock()

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	for job := range o.queue {
		pending = append(pending, job)
	}
	for _, job := range pending {
		job.AddError(ErrStopped.Error())
		job.SetStatus(StatusFailed, "stopped")
	}
	if len(pending) > 0 {
		o.log.Info("pending render jobs failed on shutdown", "jobs", len(pending))
	}
}

// Submit registers a render job for p to run at runAt (now when zero or
// past).
func (o *Orchestrator) Submit(p Payload, runAt time.Time) (*Job, error) {
	job, err := NewJob(p, runAt)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopped {
		return nil, ErrStopped
	}
	o.jobs.Put(job)

	if delay := time.Until(job.RunAt); delay > 0 {
		o.timers[job.ID] = time.AfterFunc(delay, func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.timers, job.ID)
			if o.stopped {
				return
			}
			if err := o.enqueueLocked(job); err != nil {
				o.log.Error("delayed job dropped", "job_id", job.ID, "slug", job.Slug, "error", err)
			}
		})
		return job, nil
	}
	if err := o.enqueueLocked(job); err != nil {
		return job, err
	}
	return job, nil
}

func (o *Orchestrator) enqueueLocked(job *Job) error {
	select {
	case o.queue <- job:
		return nil
	default:
		job.AddError("queue full")
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("%w (%d)", ErrQueueFull, cap(o.queue))
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Scheduled returns the number of jobs waiting for their run time.
func (o *Orchestrator) Scheduled() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.timers)
}

// Stats returns recent job latencies.
func (o *Orchestrator) Stats() LatencySnapshot {
	return o.worker.Stats().Snapshot()
}
