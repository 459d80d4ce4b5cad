package model

import "time"

// TokenSet is the normalized result of a code exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64 // seconds, 0 when the platform did not say
	Scope        []string
}

// StatusEvent announces a ledger transition to interested listeners.
type StatusEvent struct {
	Type            string            `json:"type"`
	UserID          string            `json:"user_id"`
	PostID          int64             `json:"post_id"`
	SocialAccountID int64             `json:"social_account_id"`
	PlatformID      string            `json:"platform_id"`
	Status          PostAccountStatus `json:"status"`
	PostStatus      PostStatus        `json:"post_status"`
	PlatformPostID  *string           `json:"platform_post_id,omitempty"`
	Error           *string           `json:"error,omitempty"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// PublishAudit is one append-only record of a dispatch attempt.
type PublishAudit struct {
	PostID          int64             `json:"post_id" bson:"post_id"`
	SocialAccountID int64             `json:"social_account_id" bson:"social_account_id"`
	UserID          string            `json:"user_id" bson:"user_id"`
	PlatformID      string            `json:"platform_id" bson:"platform_id"`
	Status          PostAccountStatus `json:"status" bson:"status"`
	PlatformPostID  string            `json:"platform_post_id,omitempty" bson:"platform_post_id,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty" bson:"error_message,omitempty"`
	DurationMs      int64             `json:"duration_ms" bson:"duration_ms"`
	CreatedAt       time.Time         `json:"created_at" bson:"created_at"`
}
