package usecase

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"golang.org/x/sync/errgroup"
)

type PostWithLedger struct {
	Post    *model.Post          `json:"post"`
	Entries []*model.PostAccount `json:"accounts"`
}

type FailedEntry struct {
	SocialAccountID int64  `json:"social_account_id"`
	PlatformID      string `json:"platform_id"`
	Error           string `json:"error"`
}

// FanOutResult reports every entry of an immediate publish. A mix of
// successes and failures is a normal outcome with PostStatus partially_published.
type FanOutResult struct {
	PostID     int64                `json:"post_id"`
	PostStatus model.PostStatus     `json:"post_status"`
	Succeeded  []*model.PostAccount `json:"succeeded"`
	Failed     []FailedEntry        `json:"failed"`
	Skipped    []int64              `json:"skipped,omitempty"`
}

type CreatePostInput struct {
	Title     string   `json:"title"`
	Content   string   `json:"content" binding:"required"`
	MediaURLs []string `json:"media_urls"`
}

type IDistributionUsecase interface {
	CreatePost(ctx context.Context, userID string, in CreatePostInput) (*model.Post, error)
	GetPostWithLedger(ctx context.Context, postID int64, userID string) (*PostWithLedger, error)
	// LinkToAccounts replaces the post's ledger with one entry per account.
	LinkToAccounts(ctx context.Context, postID int64, userID string, accountIDs []int64) ([]*model.PostAccount, error)
	Unlink(ctx context.Context, postID, accountID int64, userID string) error
	// Schedule targets accountIDs, or every entry when empty.
	Schedule(ctx context.Context, postID int64, userID string, at time.Time, accountIDs []int64) ([]*model.PostAccount, error)
	// PublishNow dispatches accountID, or every entry when nil, and waits for the outcome.
	PublishNow(ctx context.Context, postID int64, userID string, accountID *int64) (*FanOutResult, error)
	RetryPostAccount(ctx context.Context, postID, accountID int64, userID string, at *time.Time) (*model.PostAccount, error)
}

type distributionUsecase struct {
	posts       repository.IPost
	ledger      repository.IPostAccount
	accounts    repository.ISocialAccount
	publisher   *Publisher
	dispatcher  Dispatcher
	concurrency int
	now         func() time.Time
}

func NewDistributionUsecase(
	posts repository.IPost,
	ledger repository.IPostAccount,
	accounts repository.ISocialAccount,
	publisher *Publisher,
	dispatcher Dispatcher,
	concurrency int,
) IDistributionUsecase {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &distributionUsecase{
		posts:       posts,
		ledger:      ledger,
		accounts:    accounts,
		publisher:   publisher,
		dispatcher:  dispatcher,
		concurrency: concurrency,
		now:         time.Now,
	}
}

func (u *distributionUsecase) CreatePost(ctx context.Context, userID string, in CreatePostInput) (*model.Post, error) {
	p := &model.Post{
		UserID:    userID,
		Title:     in.Title,
		Content:   in.Content,
		MediaURLs: in.MediaURLs,
		Status:    model.PostDraft,
	}
	if err := u.posts.Create(ctx, p); err != nil {
		return nil, err
	}
	logger.GetLogger().WithField("post_id", p.ID).WithField("user_id", userID).Info("Post created")
	return p, nil
}

func (u *distributionUsecase) GetPostWithLedger(ctx context.Context, postID int64, userID string) (*PostWithLedger, error) {
	post, err := u.posts.GetByID(ctx, postID, userID)
	if err != nil {
		return nil, err
	}
	entries, err := u.ledger.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*model.PostAccount{}
	}
	return &PostWithLedger{Post: post, Entries: entries}, nil
}

func (u *distributionUsecase) LinkToAccounts(ctx context.Context, postID int64, userID string, accountIDs []int64) ([]*model.PostAccount, error) {
	if _, err := u.posts.GetByID(ctx, postID, userID); err != nil {
		return nil, err
	}
	ids := slices.Clone(accountIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	for _, id := range ids {
		if _, err := u.accounts.GetByID(ctx, id, userID); err != nil {
			return nil, err
		}
	}
	entries, err := u.ledger.ReplaceForPost(ctx, postID, ids)
	if err != nil {
		return nil, err
	}
	if _, err := u.publisher.RecomputePostStatus(ctx, postID); err != nil {
		return nil, err
	}
	logger.GetLogger().WithField("post_id", postID).WithField("accounts", len(ids)).Info("Post linked to accounts")
	return entries, nil
}

func (u *distributionUsecase) Unlink(ctx context.Context, postID, accountID int64, userID string) error {
	if _, err := u.posts.GetByID(ctx, postID, userID); err != nil {
		return err
	}
	if _, err := u.accounts.GetByID(ctx, accountID, userID); err != nil {
		return err
	}
	if err := u.ledger.Delete(ctx, postID, accountID); err != nil {
		return err
	}
	_, err := u.publisher.RecomputePostStatus(ctx, postID)
	return err
}

func (u *distributionUsecase) Schedule(ctx context.Context, postID int64, userID string, at time.Time, accountIDs []int64) ([]*model.PostAccount, error) {
	if _, err := u.posts.GetByID(ctx, postID, userID); err != nil {
		return nil, err
	}
	if _, err := u.linkedEntries(ctx, postID, accountIDs); err != nil {
		return nil, err
	}
	scheduled, err := u.ledger.Schedule(ctx, postID, accountIDs, at)
	if err != nil {
		return nil, err
	}
	status, err := u.publisher.RecomputePostStatus(ctx, postID)
	if err != nil {
		return nil, err
	}
	for _, e := range scheduled {
		u.publisher.Announce(ctx, e, userID, status)
	}
	if err := u.dispatcher.Schedule(ctx, scheduled); err != nil {
		// The due sweep still finds these entries.
		logger.GetLogger().WithField("post_id", postID).WithField("error", err).Warn("Arranging dispatch failed")
	}
	logger.GetLogger().WithField("post_id", postID).WithField("scheduled", len(scheduled)).
		WithField("scheduled_for", at.UTC().Format(time.RFC3339)).Info("Post scheduled")
	return scheduled, nil
}

func (u *distributionUsecase) PublishNow(ctx context.Context, postID int64, userID string, accountID *int64) (*FanOutResult, error) {
	if _, err := u.posts.GetByID(ctx, postID, userID); err != nil {
		return nil, err
	}
	var target []int64
	if accountID != nil {
		target = []int64{*accountID}
	}
	entries, err := u.linkedEntries(ctx, postID, target)
	if err != nil {
		return nil, err
	}

	result := &FanOutResult{PostID: postID, Succeeded: []*model.PostAccount{}, Failed: []FailedEntry{}}
	var ids []int64
	for _, e := range entries {
		if e.Status == model.PostAccountPublished || e.Status == model.PostAccountPublishing {
			result.Skipped = append(result.Skipped, e.SocialAccountID)
			continue
		}
		ids = append(ids, e.SocialAccountID)
	}
	if len(ids) > 0 {
		ready, err := u.ledger.Schedule(ctx, postID, ids, u.now())
		if err != nil {
			return nil, err
		}
		// Entries are due now; a caller that goes away must not strand them.
		ctx = context.WithoutCancel(ctx)
		u.fanOut(ctx, ready, result)
	}

	status, err := u.publisher.RecomputePostStatus(ctx, postID)
	if err != nil {
		return nil, err
	}
	result.PostStatus = status
	logger.GetLogger().WithFields(map[string]interface{}{
		"post_id":   postID,
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
		"status":    status,
	}).Info("Publish fan-out finished")
	return result, nil
}

// fanOut dispatches entries in parallel; one entry's failure never stops the others.
func (u *distributionUsecase) fanOut(ctx context.Context, entries []*model.PostAccount, result *FanOutResult) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)
	for _, entry := range entries {
		g.Go(func() error {
			out, err := u.publisher.DispatchEntry(gctx, entry)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed = append(result.Failed, FailedEntry{SocialAccountID: entry.SocialAccountID, PlatformID: entry.PlatformID, Error: err.Error()})
			case out.Skipped:
				result.Skipped = append(result.Skipped, entry.SocialAccountID)
			case out.Err != nil:
				result.Failed = append(result.Failed, FailedEntry{SocialAccountID: entry.SocialAccountID, PlatformID: platformOf(out.Entry, entry), Error: out.Err.Error()})
			default:
				result.Succeeded = append(result.Succeeded, out.Entry)
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(result.Failed, func(a, b FailedEntry) int { return cmp.Compare(a.SocialAccountID, b.SocialAccountID) })
	slices.SortFunc(result.Succeeded, func(a, b *model.PostAccount) int { return cmp.Compare(a.SocialAccountID, b.SocialAccountID) })
}

func platformOf(entries ...*model.PostAccount) string {
	for _, e := range entries {
		if e != nil && e.PlatformID != "" {
			return e.PlatformID
		}
	}
	return ""
}

func (u *distributionUsecase) RetryPostAccount(ctx context.Context, postID, accountID int64, userID string, at *time.Time) (*model.PostAccount, error) {
	if _, err := u.posts.GetByID(ctx, postID, userID); err != nil {
		return nil, err
	}
	when := u.now()
	if at != nil {
		when = *at
	}
	entry, err := u.ledger.Retry(ctx, postID, accountID, when)
	if err != nil {
		return nil, err
	}
	status, err := u.publisher.RecomputePostStatus(ctx, postID)
	if err != nil {
		return nil, err
	}
	u.publisher.Announce(ctx, entry, userID, status)
	if err := u.dispatcher.Schedule(ctx, []*model.PostAccount{entry}); err != nil {
		logger.GetLogger().WithField("post_id", postID).WithField("error", err).Warn("Arranging dispatch failed")
	}
	logger.GetLogger().WithField("post_id", postID).WithField("account_id", accountID).
		WithField("retry_count", entry.RetryCount).Info("Ledger entry rescheduled for retry")
	return entry, nil
}

// linkedEntries returns the post's ledger, restricted to accountIDs when given.
func (u *distributionUsecase) linkedEntries(ctx context.Context, postID int64, accountIDs []int64) ([]*model.PostAccount, error) {
	entries, err := u.ledger.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, model.ErrNoLinkedAccounts
	}
	if len(accountIDs) == 0 {
		return entries, nil
	}
	out := make([]*model.PostAccount, 0, len(accountIDs))
	for _, id := range accountIDs {
		i := slices.IndexFunc(entries, func(e *model.PostAccount) bool { return e.SocialAccountID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: account %d is not linked to post %d", model.ErrAccountNotFoundOrAccessDenied, id, postID)
		}
		out = append(out, entries[i])
	}
	return out, nil
}
