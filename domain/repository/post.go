package repository

import (
	"context"
	"time"

	"social-publisher/domain/model"
)

type IPost interface {
	Create(ctx context.Context, post *model.Post) error
	// GetByID returns model.ErrPostNotFoundOrAccessDenied when the post is missing
	// or, for a non-empty userID, owned by someone else.
	GetByID(ctx context.Context, id int64, userID string) (*model.Post, error)
	UpdateStatus(ctx context.Context, id int64, status model.PostStatus) error
}

// IPostAccount is the Post Distribution Ledger.
type IPostAccount interface {
	// ReplaceForPost deletes every ledger row of the post and inserts one per
	// account, inside one transaction.
	ReplaceForPost(ctx context.Context, postID int64, socialAccountIDs []int64) ([]*model.PostAccount, error)
	Delete(ctx context.Context, postID, socialAccountID int64) error
	Get(ctx context.Context, postID, socialAccountID int64) (*model.PostAccount, error)
	ListByPost(ctx context.Context, postID int64) ([]*model.PostAccount, error)
	// Schedule sets scheduled_for and status=scheduled on the given accounts, or
	// on every entry of the post when socialAccountIDs is empty. Publishing and
	// published entries are left alone. Returns the entries that were scheduled.
	Schedule(ctx context.Context, postID int64, socialAccountIDs []int64, at time.Time) ([]*model.PostAccount, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PostAccount, error)

	// MarkPublishing moves scheduled -> publishing atomically. It returns false
	// when the entry was not scheduled, so a concurrent dispatcher already owns it.
	MarkPublishing(ctx context.Context, id int64) (bool, error)
	MarkPublished(ctx context.Context, id int64, result *model.PublishResult) error
	// MarkFailed records the error and increments retry_count.
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	// ReclaimStale moves publishing entries last updated before the cutoff to
	// failed with errMsg, incrementing retry_count, and returns them.
	ReclaimStale(ctx context.Context, before time.Time, errMsg string) ([]*model.PostAccount, error)
	// Retry moves failed -> scheduled. Returns model.ErrInvalidTransition when the entry is not failed.
	Retry(ctx context.Context, postID, socialAccountID int64, at time.Time) (*model.PostAccount, error)
}
