package queue

import (
	"sync"
	"time"

	"github.com/imyashkale/deployer/internal/logger"
)

// DeployJob is one pipeline run requested through the API
type DeployJob struct {
	ID          string
	Environment string
	DryRun      bool
	SkipBuild   bool
	SkipUpload  bool
	Product     string
	EnqueuedAt  time.Time
}

func (j *DeployJob) fields() map[string]interface{} {
	return map[string]interface{}{
		"job_id":      j.ID,
		"environment": j.Environment,
		"dry_run":     j.DryRun,
	}
}

// JobQueue manages the job queue with a channel-based system
type JobQueue struct {
	jobs   chan *DeployJob
	mu     sync.Mutex
	closed bool
}

// NewJobQueue creates a new job queue with the specified buffer size
func NewJobQueue(bufferSize int) *JobQueue {
	return &JobQueue{
		jobs: make(chan *DeployJob, bufferSize),
	}
}

// Enqueue adds a job to the queue without blocking
func (jq *JobQueue) Enqueue(job *DeployJob) error {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.closed {
		logger.WithFields(job.fields()).Warn("Failed to enqueue job: queue is closed")
		return ErrQueueClosed
	}

	select {
	case jq.jobs <- job:
		logger.WithFields(job.fields()).Info("Deploy job enqueued")
		return nil
	default:
		logger.WithFields(job.fields()).Warn("Failed to enqueue job: queue is full")
		return ErrQueueFull
	}
}

// Len returns the number of jobs waiting
func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}

// Jobs returns the underlying channel for job consumption
func (jq *JobQueue) Jobs() <-chan *DeployJob {
	return jq.jobs
}

// Close stops accepting jobs. Queued jobs are still delivered.
func (jq *JobQueue) Close() {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.closed {
		return
	}
	jq.closed = true
	close(jq.jobs)
}

// WorkerPool manages the workers processing jobs
type WorkerPool struct {
	queue   *JobQueue
	workers int
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool. Deploy pipelines share the
// workspace, so the server runs it with a single worker.
func NewWorkerPool(queue *JobQueue, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		queue:   queue,
		workers: numWorkers,
	}
}

// Start starts all workers
func (wp *WorkerPool) Start(handler func(*DeployJob) error) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(handler)
	}
}

// worker processes jobs until the queue is closed and drained
func (wp *WorkerPool) worker(handler func(*DeployJob) error) {
	defer wp.wg.Done()

	for job := range wp.queue.Jobs() {
		if job == nil {
			continue
		}
		logger.WithFields(job.fields()).Info("Worker processing deploy job")

		if err := handler(job); err != nil {
			logger.WithFields(job.fields()).WithField("error", err.Error()).Error("Deploy job failed")
			continue
		}
		logger.WithFields(job.fields()).Info("Deploy job completed")
	}
	logger.Debug("Worker exiting: jobs channel closed")
}

// Wait waits for all workers to finish
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}
