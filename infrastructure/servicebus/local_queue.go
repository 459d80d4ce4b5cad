package servicebus

import (
	"context"
	"errors"
	"sync"
	"time"

	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"golang.org/x/sync/errgroup"
)

var _ repository.IJobQueue = (*LocalQueue)(nil)

var ErrQueueClosed = errors.New("servicebus: queue closed")

const localMaxAttempts = 3

type localJob struct {
	jobType string
	payload []byte
	key     string
	attempt int
}

// LocalQueue is an in-process IJobQueue for single-instance deployments and tests.
// Jobs are lost on restart.
type LocalQueue struct {
	workers    int
	retryDelay time.Duration

	mu        sync.Mutex
	closed    bool
	handlers  map[string]repository.JobHandler
	pending   map[string]struct{}
	repeating map[string]time.Duration
	timers    map[*time.Timer]struct{}
	ready     []localJob
	signal    chan struct{}
}

func NewLocalQueue(workers int) *LocalQueue {
	if workers <= 0 {
		workers = 1
	}
	return &LocalQueue{
		workers:    workers,
		retryDelay: time.Second,
		handlers:   make(map[string]repository.JobHandler),
		pending:    make(map[string]struct{}),
		repeating:  make(map[string]time.Duration),
		timers:     make(map[*time.Timer]struct{}),
		signal:     make(chan struct{}, 1),
	}
}

func (q *LocalQueue) Enqueue(_ context.Context, jobType string, payload []byte, opts repository.EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	key := ""
	if opts.IdempotencyKey != "" {
		key = jobType + ":" + opts.IdempotencyKey
		if _, dup := q.pending[key]; dup {
			return nil
		}
		q.pending[key] = struct{}{}
	}
	q.scheduleLocked(localJob{jobType: jobType, payload: payload, key: key}, opts.Delay)
	return nil
}

// EnqueueRepeating registers an interval job; its ticker starts with Run.
func (q *LocalQueue) EnqueueRepeating(_ context.Context, jobType string, every time.Duration) error {
	if every <= 0 {
		return errors.New("servicebus: repeating interval must be positive")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.repeating[jobType] = every
	return nil
}

func (q *LocalQueue) Process(jobType string, handler repository.JobHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

func (q *LocalQueue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	q.mu.Lock()
	for jobType, every := range q.repeating {
		g.Go(func() error {
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					q.mu.Lock()
					q.pushLocked(localJob{jobType: jobType})
					q.mu.Unlock()
				}
			}
		})
	}
	q.mu.Unlock()

	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				job, ok := q.next(ctx)
				if !ok {
					return nil
				}
				q.deliver(ctx, job)
			}
		})
	}
	return g.Wait()
}

func (q *LocalQueue) Close(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	return nil
}

func (q *LocalQueue) scheduleLocked(job localJob, delay time.Duration) {
	if delay <= 0 {
		q.pushLocked(job)
		return
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, t)
		if !q.closed {
			q.pushLocked(job)
		}
	})
	q.timers[t] = struct{}{}
}

func (q *LocalQueue) pushLocked(job localJob) {
	q.ready = append(q.ready, job)
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *LocalQueue) next(ctx context.Context) (localJob, bool) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			if job.key != "" {
				delete(q.pending, job.key)
			}
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return job, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return localJob{}, false
		case <-q.signal:
		}
	}
}

func (q *LocalQueue) deliver(ctx context.Context, job localJob) {
	q.mu.Lock()
	handler, ok := q.handlers[job.jobType]
	q.mu.Unlock()
	log := logger.GetLogger().WithField("job", job.jobType)
	if !ok {
		log.Warn("No handler for job type; dropping")
		return
	}
	err := handler(ctx, job.payload)
	if err == nil {
		return
	}
	job.attempt++
	if job.attempt >= localMaxAttempts || ctx.Err() != nil {
		log.WithField("error", err).WithField("attempts", job.attempt).Error("Job failed; giving up")
		return
	}
	log.WithField("error", err).WithField("attempts", job.attempt).Warn("Job failed; retrying")
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.scheduleLocked(job, q.retryDelay*time.Duration(job.attempt))
	}
}
