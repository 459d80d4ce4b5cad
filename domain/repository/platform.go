package repository

import (
	"context"

	"social-publisher/domain/model"
)

// IPlatformAdapter hides one third-party platform's OAuth and publishing endpoints.
type IPlatformAdapter interface {
	PlatformID() string
	// UsesPKCE reports whether the authorize/exchange steps carry a PKCE challenge/verifier.
	UsesPKCE() bool
	// VerifierLength is the number of characters of the PKCE code verifier (43..128).
	VerifierLength() int
	DefaultScopes() []string
	RedirectURI() string

	// AuthCodeURL builds the consent URL. codeChallenge is empty when UsesPKCE is false.
	AuthCodeURL(state, codeChallenge, redirectURI string, scopes []string) string
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (*model.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*model.TokenSet, error)
	FetchIdentity(ctx context.Context, accessToken string) (*model.Identity, error)
	// Publish returns model.ErrPublishNotSupportedForPlatform when the platform cannot post text.
	Publish(ctx context.Context, accessToken string, account *model.SocialAccount, post *model.Post) (*model.PublishResult, error)
	// Revoke returns nil when the platform has no revocation endpoint.
	Revoke(ctx context.Context, accessToken string) error
}

type IPlatformRegistry interface {
	// Adapter returns model.ErrUnknownPlatform for an unregistered platform.
	Adapter(platformID string) (IPlatformAdapter, error)
	Platforms() []string
}

// IStatusPublisher fans ledger transitions out to other listeners.
type IStatusPublisher interface {
	PublishStatus(ctx context.Context, evt *model.StatusEvent) error
}

// IPublishAudit records dispatch attempts.
type IPublishAudit interface {
	Record(ctx context.Context, audit *model.PublishAudit) error
}
