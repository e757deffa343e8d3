package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
)

// Queue serializes indexing runs through a single worker so that two runs
// never race on the read-modify-write of the shared persisted artifact.
type Queue struct {
	pipeline *Pipeline
	jobs     chan models.IndexJob
	logger   *zap.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewQueue creates a queue with the given buffer size. Submit fails once the
// buffer is full rather than blocking the caller.
func NewQueue(p *Pipeline, buffer int, logger *zap.Logger) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	return &Queue{
		pipeline: p,
		jobs:     make(chan models.IndexJob, buffer),
		logger:   logger,
	}
}

// Start launches the single worker. It drains jobs until ctx is cancelled
// or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job, ok := <-q.jobs:
				if !ok {
					return
				}
				// Run errors are already logged and recorded against the
				// document; the worker keeps going.
				_, _ = q.pipeline.Run(ctx, job)
			}
		}
	}()
}

// Submit enqueues a job. Returns an error when the queue is full.
func (q *Queue) Submit(job models.IndexJob) error {
	select {
	case q.jobs <- job:
		q.logger.Debug("indexing job enqueued", zap.String("document_id", job.DocumentID))
		return nil
	default:
		return fmt.Errorf("indexing queue is full")
	}
}

// Stop closes the queue and waits for the worker to finish the jobs already
// accepted.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.jobs) })
	q.wg.Wait()
}
