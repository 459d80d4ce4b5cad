package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	"github.com/lib/pq"
)

var _ repository.IPostAccount = (*PostAccountRepository)(nil)

const postAccountColumns = `pa.id, pa.post_id, pa.social_account_id, pa.status, pa.scheduled_for, pa.published_at,
	pa.platform_post_id, pa.platform_url, pa.platform_response, pa.error_message, pa.retry_count,
	pa.engagement_metrics, pa.last_metrics_update, pa.created_at, pa.updated_at`

const postAccountSelect = `SELECT ` + postAccountColumns + `, sa.platform_id, sa.display_name
	FROM post_accounts pa JOIN social_accounts sa ON sa.id = pa.social_account_id`

// PostAccountRepository is the Postgres distribution ledger.
type PostAccountRepository struct {
	db *sql.DB
}

func NewPostAccountRepository(db *sql.DB) *PostAccountRepository {
	return &PostAccountRepository{db: db}
}

func (r *PostAccountRepository) ReplaceForPost(ctx context.Context, postID int64, socialAccountIDs []int64) (out []*model.PostAccount, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM post_accounts WHERE post_id=$1`, postID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, accountID := range socialAccountIDs {
		pa := &model.PostAccount{
			PostID:          postID,
			SocialAccountID: accountID,
			Status:          model.PostAccountScheduled,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		row := tx.QueryRowContext(ctx,
			`INSERT INTO post_accounts (post_id, social_account_id, status, retry_count, created_at, updated_at)
			 VALUES ($1,$2,'scheduled',0,$3,$3) RETURNING id`, postID, accountID, now)
		if err = row.Scan(&pa.ID); err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostAccountRepository) Delete(ctx context.Context, postID, socialAccountID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM post_accounts WHERE post_id=$1 AND social_account_id=$2`, postID, socialAccountID)
	if err != nil {
		return err
	}
	return requireAffected(res, model.ErrAccountNotFoundOrAccessDenied)
}

func (r *PostAccountRepository) Get(ctx context.Context, postID, socialAccountID int64) (*model.PostAccount, error) {
	row := r.db.QueryRowContext(ctx, postAccountSelect+` WHERE pa.post_id=$1 AND pa.social_account_id=$2`, postID, socialAccountID)
	pa, err := scanPostAccount(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAccountNotFoundOrAccessDenied
	}
	return pa, err
}

func (r *PostAccountRepository) ListByPost(ctx context.Context, postID int64) ([]*model.PostAccount, error) {
	return r.list(ctx, postAccountSelect+` WHERE pa.post_id=$1 ORDER BY pa.id`, postID)
}

// Schedule leaves publishing and published entries untouched.
func (r *PostAccountRepository) Schedule(ctx context.Context, postID int64, socialAccountIDs []int64, at time.Time) ([]*model.PostAccount, error) {
	q := `UPDATE post_accounts pa SET scheduled_for=$1, status='scheduled', updated_at=$2
		WHERE pa.post_id=$3 AND pa.status NOT IN ('publishing','published')`
	args := []any{at.UTC(), time.Now().UTC(), postID}
	if len(socialAccountIDs) > 0 {
		q += ` AND pa.social_account_id = ANY($4)`
		args = append(args, pq.Array(socialAccountIDs))
	}
	q += ` RETURNING ` + postAccountColumns

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PostAccount
	for rows.Next() {
		pa, err := scanPostAccount(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

func (r *PostAccountRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.PostAccount, error) {
	return r.list(ctx, postAccountSelect+` WHERE pa.status='scheduled' AND pa.scheduled_for IS NOT NULL
		AND pa.scheduled_for <= $1 ORDER BY pa.scheduled_for LIMIT $2`, now.UTC(), limit)
}

func (r *PostAccountRepository) MarkPublishing(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE post_accounts SET status='publishing', updated_at=$1 WHERE id=$2 AND status='scheduled'`,
		time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostAccountRepository) MarkPublished(ctx context.Context, id int64, result *model.PublishResult) error {
	raw, err := json.Marshal(result.Raw)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE post_accounts SET status='published', published_at=$1, platform_post_id=$2,
		platform_url=$3, platform_response=$4, error_message=NULL, retry_count=0, updated_at=$1
		WHERE id=$5 AND status='publishing'`,
		now, result.PlatformPostID, result.PlatformURL, raw, id)
	if err != nil {
		return err
	}
	return requireAffected(res, model.ErrInvalidTransition)
}

func (r *PostAccountRepository) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE post_accounts SET status='failed', error_message=$1, retry_count=retry_count+1,
		updated_at=$2 WHERE id=$3 AND status='publishing'`, errMsg, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return requireAffected(res, model.ErrInvalidTransition)
}

func (r *PostAccountRepository) ReclaimStale(ctx context.Context, before time.Time, errMsg string) ([]*model.PostAccount, error) {
	return r.list(ctx, `WITH reclaimed AS (
		UPDATE post_accounts SET status='failed', error_message=$1, retry_count=retry_count+1, updated_at=$2
		WHERE status='publishing' AND updated_at < $3 RETURNING *)
		SELECT `+postAccountColumns+`, sa.platform_id, sa.display_name
		FROM reclaimed pa JOIN social_accounts sa ON sa.id = pa.social_account_id ORDER BY pa.id`,
		errMsg, time.Now().UTC(), before.UTC())
}

func (r *PostAccountRepository) Retry(ctx context.Context, postID, socialAccountID int64, at time.Time) (*model.PostAccount, error) {
	row := r.db.QueryRowContext(ctx, `UPDATE post_accounts pa SET status='scheduled', scheduled_for=$1, error_message=NULL, updated_at=$2
		WHERE pa.post_id=$3 AND pa.social_account_id=$4 AND pa.status='failed'
		RETURNING `+postAccountColumns, at.UTC(), time.Now().UTC(), postID, socialAccountID)
	pa, err := scanPostAccount(row, false)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrInvalidTransition
	}
	return pa, err
}

func (r *PostAccountRepository) list(ctx context.Context, q string, args ...any) ([]*model.PostAccount, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.PostAccount
	for rows.Next() {
		pa, err := scanPostAccount(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, pa)
	}
	return out, rows.Err()
}

func scanPostAccount(s rowScanner, withAccount bool) (*model.PostAccount, error) {
	pa := &model.PostAccount{}
	var (
		status                                string
		scheduledFor, publishedAt, metricsAt  sql.NullTime
		platformPostID, platformURL, errorMsg sql.NullString
		response, metrics                     []byte
	)
	dest := []any{&pa.ID, &pa.PostID, &pa.SocialAccountID, &status, &scheduledFor, &publishedAt,
		&platformPostID, &platformURL, &response, &errorMsg, &pa.RetryCount,
		&metrics, &metricsAt, &pa.CreatedAt, &pa.UpdatedAt}
	if withAccount {
		dest = append(dest, &pa.PlatformID, &pa.AccountName)
	}
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	pa.Status = model.PostAccountStatus(status)
	if scheduledFor.Valid {
		pa.ScheduledFor = &scheduledFor.Time
	}
	if publishedAt.Valid {
		pa.PublishedAt = &publishedAt.Time
	}
	if metricsAt.Valid {
		pa.LastMetricsUpdate = &metricsAt.Time
	}
	if platformPostID.Valid {
		pa.PlatformPostID = &platformPostID.String
	}
	if platformURL.Valid {
		pa.PlatformURL = &platformURL.String
	}
	if errorMsg.Valid {
		pa.ErrorMessage = &errorMsg.String
	}
	if len(response) > 0 {
		_ = json.Unmarshal(response, &pa.PlatformResponse)
	}
	if len(metrics) > 0 {
		_ = json.Unmarshal(metrics, &pa.EngagementMetrics)
	}
	return pa, nil
}
