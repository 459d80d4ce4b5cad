package model

import "time"

type ConnectionStatus string

const (
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionExpired      ConnectionStatus = "expired"
	ConnectionError        ConnectionStatus = "error"
	ConnectionPending      ConnectionStatus = "pending"
)

const (
	OAuthVersion1 = "1.0a"
	OAuthVersion2 = "2.0"
)

// SocialAccount is one external account connected by one user on one platform.
// Tokens are only ever held encrypted; AccessTokenEnc/RefreshTokenEnc share TokenIV.
type SocialAccount struct {
	ID                   int64            `json:"id"`
	UserID               string           `json:"user_id"`
	PlatformID           string           `json:"platform_id"`
	AccountID            string           `json:"account_id"`
	DisplayName          string           `json:"display_name"`
	Username             string           `json:"username"`
	ProfileImageURL      string           `json:"profile_image_url,omitempty"`
	FollowerCount        int64            `json:"follower_count"`
	FollowingCount       int64            `json:"following_count"`
	OAuthVersion         string           `json:"oauth_version"`
	Scope                []string         `json:"scope"`
	AccessTokenEnc       string           `json:"-"`
	RefreshTokenEnc      *string          `json:"-"`
	TokenIV              string           `json:"-"`
	TokenExpiresAt       *time.Time       `json:"token_expires_at,omitempty"`
	ConnectionStatus     ConnectionStatus `json:"connection_status"`
	IsActive             bool             `json:"is_active"`
	IsVerified           bool             `json:"is_verified"`
	LastSyncAt           *time.Time       `json:"last_sync_at,omitempty"`
	PlatformData         map[string]any   `json:"platform_data"`
	LastTokenRefresh     *time.Time       `json:"last_token_refresh,omitempty"`
	TokenRefreshAttempts int              `json:"token_refresh_attempts"`
	TokenRefreshError    *string          `json:"token_refresh_error,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`

	// Populated by joins with the platforms table.
	PlatformName string `json:"platform_name,omitempty"`
}

// HasRefreshToken reports whether the platform ever issued a refresh token.
func (a *SocialAccount) HasRefreshToken() bool {
	return a.RefreshTokenEnc != nil && *a.RefreshTokenEnc != ""
}

// Identity is the profile a platform reports for the token holder.
type Identity struct {
	AccountID       string         `json:"account_id"`
	DisplayName     string         `json:"display_name"`
	Username        string         `json:"username"`
	ProfileImageURL string         `json:"profile_image_url,omitempty"`
	FollowerCount   int64          `json:"follower_count"`
	FollowingCount  int64          `json:"following_count"`
	Verified        bool           `json:"verified"`
	Raw             map[string]any `json:"raw,omitempty"`
}

// PlatformStats aggregates a user's connections on one platform.
type PlatformStats struct {
	PlatformID string `json:"platform_id"`
	Total      int    `json:"total"`
	Connected  int    `json:"connected"`
	Error      int    `json:"error"`
	Expired    int    `json:"expired"`
}

// Platform is a row of the platforms catalogue.
type Platform struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsActive    bool   `json:"is_active"`
}
