package repository

import (
	"context"
	"time"

	"social-publisher/domain/model"
)

// ISocialAccount is the Connection Registry.
//
// Mutations scoped by userID treat a zero affected-row count as
// model.ErrAccountNotFoundOrAccessDenied. An empty userID means a system caller
// (refresh sweeps, dispatch) and skips the ownership filter.
type ISocialAccount interface {
	// Create inserts the account, or updates the existing row for the same
	// (user, platform, external account id), and sets ID.
	Create(ctx context.Context, account *model.SocialAccount) error
	// Update applies a partial update. Keys are column names; unknown keys are rejected.
	Update(ctx context.Context, id int64, userID string, fields map[string]any) error
	// RecordRefreshFailure increments token_refresh_attempts in place, stores
	// errMsg and sets the connection to error. It returns the new attempt count.
	RecordRefreshFailure(ctx context.Context, id int64, errMsg string) (int, error)
	Delete(ctx context.Context, id int64, userID string) error

	GetByID(ctx context.Context, id int64, userID string) (*model.SocialAccount, error)
	GetByUser(ctx context.Context, userID, platformID string) ([]*model.SocialAccount, error)
	// GetByPlatformAndExternalID returns nil, nil when no row matches.
	GetByPlatformAndExternalID(ctx context.Context, userID, platformID, accountID string) (*model.SocialAccount, error)
	GetActive(ctx context.Context, userID string) ([]*model.SocialAccount, error)
	GetExpired(ctx context.Context, limit int) ([]*model.SocialAccount, error)
	GetNeedingRefresh(ctx context.Context, buffer time.Duration, limit int) ([]*model.SocialAccount, error)
	GetStats(ctx context.Context, userID string) ([]model.PlatformStats, error)
}
