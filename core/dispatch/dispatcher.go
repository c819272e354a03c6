// Package dispatch queues asynchronously submitted jobs and feeds them to
// the handler one at a time. The single executor goroutine is what enforces
// serialized access to the GPU for platform deliveries that arrive
// concurrently.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sam3d-worker/core/handler"
	"sam3d-worker/core/models"
	"sam3d-worker/core/monitoring"
)

// HistoryStore persists finished jobs for later inspection. Persistence is
// off the correctness path: implementations may fail without failing jobs.
type HistoryStore interface {
	RecordSubmitted(job *models.Job) error
	RecordFinished(job *models.Job) error
}

// Dispatcher owns the in-process job queue and registry.
type Dispatcher struct {
	handler *handler.Handler
	history HistoryStore
	metrics *monitoring.Metrics
	log     *zap.SugaredLogger

	queue chan *models.Job

	mu   sync.RWMutex
	jobs map[string]*models.Job

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a new dispatcher with a bounded queue.
func New(h *handler.Handler, history HistoryStore, metrics *monitoring.Metrics, log *zap.SugaredLogger, capacity int) *Dispatcher {
	return &Dispatcher{
		handler: h,
		history: history,
		metrics: metrics,
		log:     log,
		queue:   make(chan *models.Job, capacity),
		jobs:    make(map[string]*models.Job),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Submit enqueues a job and returns it in pending state. A full queue is a
// backpressure signal: the job is rejected and the platform may retry it
// elsewhere.
func (d *Dispatcher) Submit(req *models.JobRequest) (*models.Job, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	job := &models.Job{
		ID:        req.ID,
		Status:    models.JobStatusPending,
		Request:   req,
		CreatedAt: time.Now(),
	}

	d.mu.Lock()
	if _, exists := d.jobs[job.ID]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("job %s already submitted", job.ID)
	}
	d.jobs[job.ID] = job
	d.mu.Unlock()

	select {
	case d.queue <- job:
	default:
		d.mu.Lock()
		delete(d.jobs, job.ID)
		d.mu.Unlock()
		return nil, fmt.Errorf("job queue is full (capacity %d)", cap(d.queue))
	}

	d.metrics.SetQueueDepth(len(d.queue))
	if err := d.history.RecordSubmitted(job); err != nil {
		d.log.Warnw("Failed to persist job submission", "job_id", job.ID, "error", err)
	}
	return job, nil
}

// Get returns a snapshot of the tracked job for id.
func (d *Dispatcher) Get(id string) (*models.Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	job, ok := d.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Start runs the executor loop until ctx is cancelled or Stop is called. The
// in-flight job is always drained to completion.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case job := <-d.queue:
			d.metrics.SetQueueDepth(len(d.queue))
			d.execute(ctx, job)
		}
	}
}

// Stop stops the executor loop and waits for the running job to finish.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

func (d *Dispatcher) execute(ctx context.Context, job *models.Job) {
	now := time.Now()
	d.setStatus(job, models.JobStatusRunning, &now, nil)

	result, failure := d.handler.Handle(ctx, job.Request)

	finished := time.Now()
	d.mu.Lock()
	job.Result = result
	job.Failure = failure
	d.mu.Unlock()
	if failure != nil {
		d.setStatus(job, models.JobStatusFailed, nil, &finished)
	} else {
		d.setStatus(job, models.JobStatusCompleted, nil, &finished)
	}

	if err := d.history.RecordFinished(job); err != nil {
		d.log.Warnw("Failed to persist job outcome", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) setStatus(job *models.Job, status models.JobStatus, started, completed *time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	job.Status = status
	if started != nil {
		job.StartedAt = started
	}
	if completed != nil {
		job.CompletedAt = completed
	}
}

// NopHistory is the HistoryStore used when no database is configured.
type NopHistory struct{}

// RecordSubmitted implements HistoryStore.
func (NopHistory) RecordSubmitted(*models.Job) error { return nil }

// RecordFinished implements HistoryStore.
func (NopHistory) RecordFinished(*models.Job) error { return nil }
