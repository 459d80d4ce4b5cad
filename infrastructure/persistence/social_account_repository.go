package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/logger"

	"github.com/lib/pq"
)

var _ repository.ISocialAccount = (*SocialAccountRepository)(nil)

const socialAccountSelect = `SELECT sa.id, sa.user_id, sa.platform_id, sa.account_id, sa.display_name, sa.username,
	sa.profile_image_url, sa.follower_count, sa.following_count, sa.oauth_version, sa.scope,
	sa.access_token_enc, sa.refresh_token_enc, sa.token_iv, sa.token_expires_at, sa.connection_status,
	sa.is_active, sa.is_verified, sa.last_sync_at, sa.platform_data, sa.last_token_refresh,
	sa.token_refresh_attempts, sa.token_refresh_error, sa.created_at, sa.updated_at,
	COALESCE(p.display_name, sa.platform_id)
	FROM social_accounts sa LEFT JOIN platforms p ON p.id = sa.platform_id`

// updatableAccountColumns guards the dynamic SET list of Update.
var updatableAccountColumns = map[string]bool{
	"display_name":           true,
	"username":               true,
	"profile_image_url":      true,
	"follower_count":         true,
	"following_count":        true,
	"scope":                  true,
	"access_token_enc":       true,
	"refresh_token_enc":      true,
	"token_iv":               true,
	"token_expires_at":       true,
	"connection_status":      true,
	"is_active":              true,
	"is_verified":            true,
	"last_sync_at":           true,
	"platform_data":          true,
	"last_token_refresh":     true,
	"token_refresh_attempts": true,
	"token_refresh_error":    true,
}

// SocialAccountRepository is the Postgres Connection Registry.
type SocialAccountRepository struct {
	db *sql.DB
}

func NewSocialAccountRepository(db *sql.DB) *SocialAccountRepository {
	return &SocialAccountRepository{db: db}
}

func (r *SocialAccountRepository) Create(ctx context.Context, a *model.SocialAccount) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	if a.OAuthVersion == "" {
		a.OAuthVersion = model.OAuthVersion2
	}
	if a.ConnectionStatus == "" {
		a.ConnectionStatus = model.ConnectionConnected
	}
	data, err := encodePlatformData(a.PlatformData)
	if err != nil {
		return err
	}

	q := `INSERT INTO social_accounts (user_id, platform_id, account_id, display_name, username, profile_image_url,
		follower_count, following_count, oauth_version, scope, access_token_enc, refresh_token_enc, token_iv,
		token_expires_at, connection_status, is_active, is_verified, last_sync_at, platform_data,
		last_token_refresh, token_refresh_attempts, token_refresh_error, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
		ON CONFLICT (user_id, platform_id, account_id) DO UPDATE SET
			display_name=EXCLUDED.display_name,
			username=EXCLUDED.username,
			profile_image_url=EXCLUDED.profile_image_url,
			follower_count=EXCLUDED.follower_count,
			following_count=EXCLUDED.following_count,
			oauth_version=EXCLUDED.oauth_version,
			scope=EXCLUDED.scope,
			access_token_enc=EXCLUDED.access_token_enc,
			refresh_token_enc=EXCLUDED.refresh_token_enc,
			token_iv=EXCLUDED.token_iv,
			token_expires_at=EXCLUDED.token_expires_at,
			connection_status=EXCLUDED.connection_status,
			is_active=EXCLUDED.is_active,
			is_verified=EXCLUDED.is_verified,
			last_sync_at=EXCLUDED.last_sync_at,
			platform_data=EXCLUDED.platform_data,
			last_token_refresh=EXCLUDED.last_token_refresh,
			token_refresh_attempts=EXCLUDED.token_refresh_attempts,
			token_refresh_error=EXCLUDED.token_refresh_error,
			updated_at=EXCLUDED.updated_at
		RETURNING id, created_at`
	row := r.db.QueryRowContext(ctx, q,
		a.UserID, a.PlatformID, a.AccountID, a.DisplayName, a.Username, a.ProfileImageURL,
		a.FollowerCount, a.FollowingCount, a.OAuthVersion, pq.Array(a.Scope), a.AccessTokenEnc, a.RefreshTokenEnc, a.TokenIV,
		a.TokenExpiresAt, string(a.ConnectionStatus), a.IsActive, a.IsVerified, a.LastSyncAt, data,
		a.LastTokenRefresh, a.TokenRefreshAttempts, a.TokenRefreshError, a.CreatedAt, a.UpdatedAt,
	)
	return row.Scan(&a.ID, &a.CreatedAt)
}

func (r *SocialAccountRepository) Update(ctx context.Context, id int64, userID string, fields map[string]any) error {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if !updatableAccountColumns[col] {
			return fmt.Errorf("update social account: column %q is not updatable", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+3)
	for _, col := range cols {
		v, err := columnValue(fields[col])
		if err != nil {
			return fmt.Errorf("update social account %s: %w", col, err)
		}
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at=$%d", len(args)))

	args = append(args, id)
	q := fmt.Sprintf("UPDATE social_accounts SET %s WHERE id=$%d", strings.Join(sets, ", "), len(args))
	if userID != "" {
		args = append(args, userID)
		q += fmt.Sprintf(" AND user_id=$%d", len(args))
	}

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return requireAffected(res, model.ErrAccountNotFoundOrAccessDenied)
}

func (r *SocialAccountRepository) RecordRefreshFailure(ctx context.Context, id int64, errMsg string) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx, `UPDATE social_accounts SET token_refresh_attempts=token_refresh_attempts+1,
		token_refresh_error=$1, connection_status='error', updated_at=$2 WHERE id=$3 RETURNING token_refresh_attempts`,
		errMsg, time.Now().UTC(), id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, model.ErrAccountNotFoundOrAccessDenied
	}
	return attempts, err
}

func (r *SocialAccountRepository) Delete(ctx context.Context, id int64, userID string) error {
	q := `DELETE FROM social_accounts WHERE id=$1`
	args := []any{id}
	if userID != "" {
		q += ` AND user_id=$2`
		args = append(args, userID)
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	return requireAffected(res, model.ErrAccountNotFoundOrAccessDenied)
}

func (r *SocialAccountRepository) GetByID(ctx context.Context, id int64, userID string) (*model.SocialAccount, error) {
	q := socialAccountSelect + ` WHERE sa.id=$1`
	args := []any{id}
	if userID != "" {
		q += ` AND sa.user_id=$2`
		args = append(args, userID)
	}
	a, err := scanSocialAccount(r.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrAccountNotFoundOrAccessDenied
	}
	return a, err
}

func (r *SocialAccountRepository) GetByUser(ctx context.Context, userID, platformID string) ([]*model.SocialAccount, error) {
	q := socialAccountSelect + ` WHERE sa.user_id=$1`
	args := []any{userID}
	if platformID != "" {
		q += ` AND sa.platform_id=$2`
		args = append(args, platformID)
	}
	q += ` ORDER BY sa.created_at DESC`
	return r.list(ctx, q, args...)
}

func (r *SocialAccountRepository) GetByPlatformAndExternalID(ctx context.Context, userID, platformID, accountID string) (*model.SocialAccount, error) {
	q := socialAccountSelect + ` WHERE sa.user_id=$1 AND sa.platform_id=$2 AND sa.account_id=$3`
	a, err := scanSocialAccount(r.db.QueryRowContext(ctx, q, userID, platformID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *SocialAccountRepository) GetActive(ctx context.Context, userID string) ([]*model.SocialAccount, error) {
	q := socialAccountSelect + ` WHERE sa.user_id=$1 AND sa.connection_status='connected' AND sa.is_active
		AND COALESCE(p.is_active, TRUE) ORDER BY sa.platform_id, sa.display_name`
	return r.list(ctx, q, userID)
}

func (r *SocialAccountRepository) GetExpired(ctx context.Context, limit int) ([]*model.SocialAccount, error) {
	q := socialAccountSelect + ` WHERE sa.is_active AND sa.connection_status <> 'expired'
		AND sa.token_expires_at IS NOT NULL AND sa.token_expires_at <= $1
		ORDER BY sa.token_expires_at LIMIT $2`
	return r.list(ctx, q, time.Now().UTC(), limit)
}

func (r *SocialAccountRepository) GetNeedingRefresh(ctx context.Context, buffer time.Duration, limit int) ([]*model.SocialAccount, error) {
	q := socialAccountSelect + ` WHERE sa.is_active AND sa.connection_status='connected'
		AND sa.refresh_token_enc IS NOT NULL AND sa.token_expires_at IS NOT NULL AND sa.token_expires_at <= $1
		ORDER BY sa.token_expires_at LIMIT $2`
	return r.list(ctx, q, time.Now().UTC().Add(buffer), limit)
}

func (r *SocialAccountRepository) GetStats(ctx context.Context, userID string) ([]model.PlatformStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT platform_id,
			COUNT(*),
			COUNT(*) FILTER (WHERE connection_status='connected'),
			COUNT(*) FILTER (WHERE connection_status='error'),
			COUNT(*) FILTER (WHERE connection_status='expired')
		FROM social_accounts WHERE user_id=$1 GROUP BY platform_id ORDER BY platform_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []model.PlatformStats
	for rows.Next() {
		var s model.PlatformStats
		if err := rows.Scan(&s.PlatformID, &s.Total, &s.Connected, &s.Error, &s.Expired); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *SocialAccountRepository) list(ctx context.Context, q string, args ...any) ([]*model.SocialAccount, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SocialAccount
	for rows.Next() {
		a, err := scanSocialAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSocialAccount(s rowScanner) (*model.SocialAccount, error) {
	a := &model.SocialAccount{}
	var (
		refreshEnc, refreshErr           sql.NullString
		expiresAt, lastSync, lastRefresh sql.NullTime
		status                           string
		platformData                     []byte
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.PlatformID, &a.AccountID, &a.DisplayName, &a.Username,
		&a.ProfileImageURL, &a.FollowerCount, &a.FollowingCount, &a.OAuthVersion, pq.Array(&a.Scope),
		&a.AccessTokenEnc, &refreshEnc, &a.TokenIV, &expiresAt, &status,
		&a.IsActive, &a.IsVerified, &lastSync, &platformData, &lastRefresh,
		&a.TokenRefreshAttempts, &refreshErr, &a.CreatedAt, &a.UpdatedAt,
		&a.PlatformName); err != nil {
		return nil, err
	}
	a.ConnectionStatus = model.ConnectionStatus(status)
	if refreshEnc.Valid {
		a.RefreshTokenEnc = &refreshEnc.String
	}
	if refreshErr.Valid {
		a.TokenRefreshError = &refreshErr.String
	}
	if expiresAt.Valid {
		a.TokenExpiresAt = &expiresAt.Time
	}
	if lastSync.Valid {
		a.LastSyncAt = &lastSync.Time
	}
	if lastRefresh.Valid {
		a.LastTokenRefresh = &lastRefresh.Time
	}
	a.PlatformData = decodePlatformData(a.ID, platformData)
	return a, nil
}

// decodePlatformData accepts a JSON object or a JSON string holding an object.
// Anything else is logged and replaced by an empty map.
func decodePlatformData(accountID int64, raw []byte) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return out
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.GetLogger().WithField("account_id", accountID).WithField("error", err).Warn("malformed platform_data; using empty object")
		return map[string]any{}
	}
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		if err := json.Unmarshal([]byte(t), &out); err == nil {
			return out
		}
	}
	logger.GetLogger().WithField("account_id", accountID).Warn("platform_data is not an object; using empty object")
	return map[string]any{}
}

func encodePlatformData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(data)
}

func columnValue(v any) (any, error) {
	switch t := v.(type) {
	case []string:
		return pq.Array(t), nil
	case map[string]any:
		return json.Marshal(t)
	case model.ConnectionStatus:
		return string(t), nil
	default:
		return v, nil
	}
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
