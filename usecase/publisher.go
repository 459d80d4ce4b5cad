package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"
)

const StatusEventType = "ledger_status"

const (
	claimGrace                = 2 * time.Minute
	interruptedPublishMessage = "publish interrupted before its outcome was recorded"
)

// DispatchOutcome is the result of one DispatchEntry call. Skipped means another
// dispatcher owned the entry or it was no longer scheduled.
type DispatchOutcome struct {
	Entry   *model.PostAccount
	Skipped bool
	Err     error
}

// Publisher is the dispatch core shared by every scheduling strategy.
type Publisher struct {
	posts    repository.IPost
	ledger   repository.IPostAccount
	accounts repository.ISocialAccount
	registry repository.IPlatformRegistry
	tokens   IConnectionUsecase
	events   repository.IStatusPublisher
	audit    repository.IPublishAudit
	timeout  time.Duration
	now      func() time.Time
}

func NewPublisher(
	posts repository.IPost,
	ledger repository.IPostAccount,
	accounts repository.ISocialAccount,
	registry repository.IPlatformRegistry,
	tokens IConnectionUsecase,
	events repository.IStatusPublisher,
	audit repository.IPublishAudit,
	timeout time.Duration,
) *Publisher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Publisher{
		posts:    posts,
		ledger:   ledger,
		accounts: accounts,
		registry: registry,
		tokens:   tokens,
		events:   events,
		audit:    audit,
		timeout:  timeout,
		now:      time.Now,
	}
}

// DispatchEntry publishes one ledger entry. It claims the entry with a
// scheduled -> publishing compare-and-set, so redeliveries and overlapping
// scans are no-ops. A publish failure is recorded on the entry and returned in
// the outcome, not as an error.
func (p *Publisher) DispatchEntry(ctx context.Context, entry *model.PostAccount) (*DispatchOutcome, error) {
	log := logger.GetLogger().WithField("post_id", entry.PostID).WithField("account_id", entry.SocialAccountID)

	claimed, err := p.ledger.MarkPublishing(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Debug("Ledger entry not scheduled; skipping dispatch")
		return &DispatchOutcome{Entry: entry, Skipped: true}, nil
	}
	// A claimed entry must reach published or failed. From here on only the
	// publish timeout bounds the work, not the caller.
	ctx = context.WithoutCancel(ctx)

	started := p.now()
	post, account, result, pubErr := p.publish(ctx, entry)

	userID, platformID := "", entry.PlatformID
	if post != nil {
		userID = post.UserID
	}
	if account != nil {
		platformID = account.PlatformID
	}
	outcome := &DispatchOutcome{Entry: entry}
	if pubErr == nil {
		if err := p.ledger.MarkPublished(ctx, entry.ID, result); err != nil {
			return nil, fmt.Errorf("mark published: %w", err)
		}
		log.WithField("platform", platformID).WithField("platform_post_id", result.PlatformPostID).Info("Post published")
	} else {
		outcome.Err = pubErr
		if err := p.ledger.MarkFailed(ctx, entry.ID, pubErr.Error()); err != nil {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
		log.WithField("platform", platformID).WithField("error", pubErr).Warn("Publish failed")
	}

	fresh, err := p.ledger.Get(ctx, entry.PostID, entry.SocialAccountID)
	if err != nil {
		return nil, err
	}
	outcome.Entry = fresh
	postStatus, err := p.RecomputePostStatus(ctx, entry.PostID)
	if err != nil {
		log.WithField("error", err).Error("Recomputing post status failed")
	}

	p.record(ctx, fresh, userID, platformID, postStatus, p.now().Sub(started))
	return outcome, nil
}

func (p *Publisher) publish(ctx context.Context, entry *model.PostAccount) (*model.Post, *model.SocialAccount, *model.PublishResult, error) {
	post, err := p.posts.GetByID(ctx, entry.PostID, "")
	if err != nil {
		return nil, nil, nil, err
	}
	account, err := p.accounts.GetByID(ctx, entry.SocialAccountID, "")
	if err != nil {
		return post, nil, nil, err
	}
	adapter, err := p.registry.Adapter(account.PlatformID)
	if err != nil {
		return post, account, nil, fmt.Errorf("%w: %s", model.ErrPublishNotSupportedForPlatform, account.PlatformID)
	}
	accessToken, err := p.tokens.AccessToken(ctx, account)
	if err != nil {
		return post, account, nil, err
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result, err := adapter.Publish(pubCtx, accessToken, account, post)
	if err != nil && errors.Is(pubCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s", model.ErrPublishTimeout, p.timeout)
	}
	if err == nil && result == nil {
		err = errors.New("platform returned no result")
	}
	return post, account, result, err
}

// StaleClaimAfter is how long an entry may stay publishing before a sweep
// treats its dispatcher as gone.
func (p *Publisher) StaleClaimAfter() time.Duration {
	return p.timeout + claimGrace
}

// ReclaimStale fails entries left publishing by a dispatcher that never
// finished. They are not rescheduled: the upstream post may already exist, so
// only an explicit retry publishes them again.
func (p *Publisher) ReclaimStale(ctx context.Context) (int, error) {
	stale, err := p.ledger.ReclaimStale(ctx, p.now().Add(-p.StaleClaimAfter()), interruptedPublishMessage)
	if err != nil {
		return 0, err
	}
	statuses := map[int64]model.PostStatus{}
	for _, entry := range stale {
		status, ok := statuses[entry.PostID]
		if !ok {
			if status, err = p.RecomputePostStatus(ctx, entry.PostID); err != nil {
				logger.GetLogger().WithField("post_id", entry.PostID).WithField("error", err).Error("Recomputing post status failed")
			}
			statuses[entry.PostID] = status
		}
		userID := ""
		if post, err := p.posts.GetByID(ctx, entry.PostID, ""); err == nil {
			userID = post.UserID
		}
		logger.GetLogger().WithField("post_id", entry.PostID).WithField("account_id", entry.SocialAccountID).
			Warn("Stale publishing claim marked failed")
		p.record(ctx, entry, userID, entry.PlatformID, status, 0)
	}
	return len(stale), nil
}

// RecomputePostStatus derives and stores the post status from its ledger.
func (p *Publisher) RecomputePostStatus(ctx context.Context, postID int64) (model.PostStatus, error) {
	entries, err := p.ledger.ListByPost(ctx, postID)
	if err != nil {
		return "", err
	}
	status := model.AggregatePostStatus(entries)
	if err := p.posts.UpdateStatus(ctx, postID, status); err != nil {
		return "", err
	}
	return status, nil
}

func (p *Publisher) record(ctx context.Context, entry *model.PostAccount, userID, platformID string, postStatus model.PostStatus, took time.Duration) {
	if p.audit != nil {
		a := &model.PublishAudit{
			PostID:          entry.PostID,
			SocialAccountID: entry.SocialAccountID,
			UserID:          userID,
			PlatformID:      platformID,
			Status:          entry.Status,
			DurationMs:      took.Milliseconds(),
		}
		if entry.PlatformPostID != nil {
			a.PlatformPostID = *entry.PlatformPostID
		}
		if entry.ErrorMessage != nil {
			a.ErrorMessage = *entry.ErrorMessage
		}
		if err := p.audit.Record(ctx, a); err != nil {
			logger.GetLogger().WithField("post_id", entry.PostID).WithField("error", err).Warn("Recording publish audit failed")
		}
	}
	p.emit(ctx, entry, userID, platformID, postStatus)
}

// Announce emits a status event for a transition made outside dispatch.
func (p *Publisher) Announce(ctx context.Context, entry *model.PostAccount, userID string, postStatus model.PostStatus) {
	p.emit(ctx, entry, userID, entry.PlatformID, postStatus)
}

func (p *Publisher) emit(ctx context.Context, entry *model.PostAccount, userID, platformID string, postStatus model.PostStatus) {
	if p.events == nil {
		return
	}
	evt := &model.StatusEvent{
		Type:            StatusEventType,
		UserID:          userID,
		PostID:          entry.PostID,
		SocialAccountID: entry.SocialAccountID,
		PlatformID:      platformID,
		Status:          entry.Status,
		PostStatus:      postStatus,
		PlatformPostID:  entry.PlatformPostID,
		Error:           entry.ErrorMessage,
		OccurredAt:      p.now().UTC(),
	}
	if err := p.events.PublishStatus(ctx, evt); err != nil {
		logger.GetLogger().WithField("post_id", entry.PostID).WithField("error", err).Warn("Publishing status event failed")
	}
}

// StatusFanOut forwards each event to every publisher and joins their errors.
type StatusFanOut []repository.IStatusPublisher

func (f StatusFanOut) PublishStatus(ctx context.Context, evt *model.StatusEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishStatus(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
