package model

import "time"

type PostStatus string

const (
	PostDraft              PostStatus = "draft"
	PostReady              PostStatus = "ready"
	PostPublished          PostStatus = "published"
	PostPartiallyPublished PostStatus = "partially_published"
	PostFailed             PostStatus = "failed"
	PostArchived           PostStatus = "archived"
)

type PostAccountStatus string

const (
	PostAccountScheduled  PostAccountStatus = "scheduled"
	PostAccountPublishing PostAccountStatus = "publishing"
	PostAccountPublished  PostAccountStatus = "published"
	PostAccountFailed     PostAccountStatus = "failed"
)

// Post is authored content fanned out to one or more social accounts.
type Post struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	MediaURLs []string   `json:"media_urls"`
	Status    PostStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// PostAccount is a ledger entry: one account's publish state for one post.
type PostAccount struct {
	ID                int64             `json:"id"`
	PostID            int64             `json:"post_id"`
	SocialAccountID   int64             `json:"social_account_id"`
	Status            PostAccountStatus `json:"status"`
	ScheduledFor      *time.Time        `json:"scheduled_for,omitempty"`
	PublishedAt       *time.Time        `json:"published_at,omitempty"`
	PlatformPostID    *string           `json:"platform_post_id,omitempty"`
	PlatformURL       *string           `json:"platform_url,omitempty"`
	PlatformResponse  map[string]any    `json:"platform_response,omitempty"`
	ErrorMessage      *string           `json:"error_message,omitempty"`
	RetryCount        int               `json:"retry_count"`
	EngagementMetrics map[string]any    `json:"engagement_metrics,omitempty"`
	LastMetricsUpdate *time.Time        `json:"last_metrics_update,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`

	// Populated by joins with social_accounts.
	PlatformID  string `json:"platform_id,omitempty"`
	AccountName string `json:"account_name,omitempty"`
}

// PublishResult is what a platform returns for a successful publish.
type PublishResult struct {
	PlatformPostID string         `json:"platform_post_id"`
	PlatformURL    string         `json:"platform_url"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// AggregatePostStatus derives a post's status from its ledger entries.
// Entries still publishing count as not yet attempted.
func AggregatePostStatus(entries []*PostAccount) PostStatus {
	if len(entries) == 0 {
		return PostDraft
	}
	var published, failed, scheduled int
	for _, e := range entries {
		switch e.Status {
		case PostAccountPublished:
			published++
		case PostAccountFailed:
			failed++
		}
		if e.ScheduledFor != nil {
			scheduled++
		}
	}
	switch {
	case published == len(entries):
		return PostPublished
	case published > 0:
		return PostPartiallyPublished
	case failed > 0:
		return PostFailed
	case scheduled > 0:
		return PostReady
	default:
		return PostDraft
	}
}
