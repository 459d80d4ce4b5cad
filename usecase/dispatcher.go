package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"golang.org/x/sync/errgroup"
)

const (
	JobPublishPostAccount = "publish_post_account"
	JobDueSweep           = "due_sweep"
	JobRefreshTokens      = "refresh_tokens"
)

// Dispatcher arranges future dispatch of scheduled ledger entries.
type Dispatcher interface {
	Schedule(ctx context.Context, entries []*model.PostAccount) error
	// Start runs the background loop until ctx is done.
	Start(ctx context.Context) error
}

type DispatchConfig struct {
	BatchSize       int
	Concurrency     int
	PollInterval    time.Duration
	SweepInterval   time.Duration
	RefreshInterval time.Duration
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 10 * time.Minute
	}
	return c
}

// dispatchDue fails stale publishing claims, then dispatches every due entry
// with bounded parallelism.
func dispatchDue(ctx context.Context, publisher *Publisher, ledger repository.IPostAccount, now time.Time, cfg DispatchConfig) (int, error) {
	if n, err := publisher.ReclaimStale(ctx); err != nil {
		logger.GetLogger().WithField("error", err).Error("Reclaiming stale publishing entries failed")
	} else if n > 0 {
		logger.GetLogger().WithField("reclaimed", n).Warn("Stale publishing entries marked failed")
	}
	due, err := ledger.ListDue(ctx, now, cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	var dispatched atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for _, entry := range due {
		g.Go(func() error {
			out, err := publisher.DispatchEntry(gctx, entry)
			if err != nil {
				logger.GetLogger().WithField("post_id", entry.PostID).WithField("account_id", entry.SocialAccountID).
					WithField("error", err).Error("Dispatch failed")
				return nil
			}
			if !out.Skipped {
				dispatched.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(dispatched.Load()), err
}

// PollingDispatcher scans for due entries on a timer.
type PollingDispatcher struct {
	publisher *Publisher
	ledger    repository.IPostAccount
	refresher IConnectionUsecase
	cfg       DispatchConfig
	running   atomic.Bool
	now       func() time.Time
}

func NewPollingDispatcher(publisher *Publisher, ledger repository.IPostAccount, refresher IConnectionUsecase, cfg DispatchConfig) *PollingDispatcher {
	return &PollingDispatcher{
		publisher: publisher,
		ledger:    ledger,
		refresher: refresher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// Schedule is a no-op: the next scan picks the entries up.
func (d *PollingDispatcher) Schedule(context.Context, []*model.PostAccount) error { return nil }

// Sweep runs one scan. It returns immediately when a scan is already in flight.
func (d *PollingDispatcher) Sweep(ctx context.Context) (int, error) {
	if !d.running.CompareAndSwap(false, true) {
		logger.GetLogger().Debug("Due scan already running; skipping tick")
		return 0, nil
	}
	defer d.running.Store(false)
	return dispatchDue(ctx, d.publisher, d.ledger, d.now(), d.cfg)
}

func (d *PollingDispatcher) Start(ctx context.Context) error {
	logger.GetLogger().WithField("interval", d.cfg.PollInterval.String()).Info("Polling dispatcher started")
	poll := time.NewTicker(d.cfg.PollInterval)
	defer poll.Stop()
	refresh := time.NewTicker(d.cfg.RefreshInterval)
	defer refresh.Stop()

	// Scans run beside the ticker; Start returns only once they have finished.
	var scans sync.WaitGroup
	defer scans.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-poll.C:
			scans.Add(1)
			go func() {
				defer scans.Done()
				if n, err := d.Sweep(ctx); err != nil {
					logger.GetLogger().WithField("error", err).Error("Due scan failed")
				} else if n > 0 {
					logger.GetLogger().WithField("dispatched", n).Info("Due scan finished")
				}
			}()
		case <-refresh.C:
			if d.refresher == nil {
				continue
			}
			if _, err := d.refresher.RefreshSweep(ctx); err != nil {
				logger.GetLogger().WithField("error", err).Error("Token refresh sweep failed")
			}
		}
	}
}

type publishJob struct {
	PostAccountID   int64      `json:"post_account_id"`
	PostID          int64      `json:"post_id"`
	SocialAccountID int64      `json:"social_account_id"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
}

// PublishJobKey is the idempotency key of the delayed job for one ledger pair.
func PublishJobKey(postID, socialAccountID int64) string {
	return fmt.Sprintf("publish:%d:%d", postID, socialAccountID)
}

// QueueDispatcher enqueues one delayed job per scheduled entry and keeps a
// repeating due sweep as a safety net for skipped deliveries.
type QueueDispatcher struct {
	queue     repository.IJobQueue
	publisher *Publisher
	ledger    repository.IPostAccount
	refresher IConnectionUsecase
	cfg       DispatchConfig
	now       func() time.Time
}

func NewQueueDispatcher(queue repository.IJobQueue, publisher *Publisher, ledger repository.IPostAccount, refresher IConnectionUsecase, cfg DispatchConfig) *QueueDispatcher {
	return &QueueDispatcher{
		queue:     queue,
		publisher: publisher,
		ledger:    ledger,
		refresher: refresher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

func (d *QueueDispatcher) Schedule(ctx context.Context, entries []*model.PostAccount) error {
	for _, e := range entries {
		var delay time.Duration
		if e.ScheduledFor != nil {
			delay = e.ScheduledFor.Sub(d.now())
		}
		payload, err := json.Marshal(publishJob{
			PostAccountID:   e.ID,
			PostID:          e.PostID,
			SocialAccountID: e.SocialAccountID,
			ScheduledFor:    e.ScheduledFor,
		})
		if err != nil {
			return err
		}
		opts := repository.EnqueueOptions{Delay: delay, IdempotencyKey: PublishJobKey(e.PostID, e.SocialAccountID)}
		if err := d.queue.Enqueue(ctx, JobPublishPostAccount, payload, opts); err != nil {
			return fmt.Errorf("enqueue publish job: %w", err)
		}
	}
	return nil
}

func (d *QueueDispatcher) Start(ctx context.Context) error {
	d.queue.Process(JobPublishPostAccount, d.handlePublish)
	d.queue.Process(JobDueSweep, func(ctx context.Context, _ []byte) error {
		_, err := dispatchDue(ctx, d.publisher, d.ledger, d.now(), d.cfg)
		return err
	})
	if d.refresher != nil {
		d.queue.Process(JobRefreshTokens, func(ctx context.Context, _ []byte) error {
			_, err := d.refresher.RefreshSweep(ctx)
			return err
		})
		if err := d.queue.EnqueueRepeating(ctx, JobRefreshTokens, d.cfg.RefreshInterval); err != nil {
			return err
		}
	}
	if err := d.queue.EnqueueRepeating(ctx, JobDueSweep, d.cfg.SweepInterval); err != nil {
		return err
	}
	logger.GetLogger().Info("Queue dispatcher started")
	return d.queue.Run(ctx)
}

func (d *QueueDispatcher) handlePublish(ctx context.Context, payload []byte) error {
	var job publishJob
	if err := json.Unmarshal(payload, &job); err != nil {
		logger.GetLogger().WithField("error", err).Error("Malformed publish job; dropping")
		return nil
	}
	entry, err := d.ledger.Get(ctx, job.PostID, job.SocialAccountID)
	if errors.Is(err, model.ErrAccountNotFoundOrAccessDenied) {
		return nil
	}
	if err != nil {
		return err
	}
	// Rescheduled later than this job: the due sweep will pick it up.
	if entry.Status != model.PostAccountScheduled || entry.ScheduledFor == nil || entry.ScheduledFor.After(d.now()) {
		return nil
	}
	_, err = d.publisher.DispatchEntry(ctx, entry)
	return err
}
