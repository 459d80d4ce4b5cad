package repository

import (
	"context"
	"time"
)

type EnqueueOptions struct {
	Delay          time.Duration
	IdempotencyKey string
}

type JobHandler func(ctx context.Context, payload []byte) error

// IJobQueue is a durable delayed-job queue.
type IJobQueue interface {
	// Enqueue delivers payload to the jobType handler after opts.Delay. Enqueuing
	// twice with the same idempotency key before delivery yields one delivery.
	Enqueue(ctx context.Context, jobType string, payload []byte, opts EnqueueOptions) error
	// EnqueueRepeating delivers an empty payload to the jobType handler every interval.
	EnqueueRepeating(ctx context.Context, jobType string, every time.Duration) error
	Process(jobType string, handler JobHandler)
	// Run consumes jobs until ctx is done.
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}
