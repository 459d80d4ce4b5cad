package model

import "errors"

var (
	// ErrInvalidOrExpiredState is returned for a stale or replayed OAuth callback.
	ErrInvalidOrExpiredState = errors.New("invalid or expired oauth state")
	// ErrInvalidCallbackURL is returned when a callback URL is not on the platform's registered origin.
	ErrInvalidCallbackURL = errors.New("callback url does not match the registered redirect uri")
	// ErrTokenExchangeFailed is returned when the platform rejects the authorization code.
	ErrTokenExchangeFailed = errors.New("token exchange failed")
	// ErrRefreshUnavailable is returned when the platform never issued a refresh token.
	ErrRefreshUnavailable = errors.New("refresh token unavailable")
	// ErrRefreshFailed is returned when the platform rejects a refresh.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrAccountNotFoundOrAccessDenied covers both a missing row and a row owned by another user.
	ErrAccountNotFoundOrAccessDenied = errors.New("social account not found or access denied")
	// ErrPostNotFoundOrAccessDenied covers both a missing post and a post owned by another user.
	ErrPostNotFoundOrAccessDenied = errors.New("post not found or access denied")
	// ErrNoLinkedAccounts is returned when scheduling or publishing an empty fan-out.
	ErrNoLinkedAccounts = errors.New("post has no linked accounts")
	// ErrPublishNotSupportedForPlatform is returned when an adapter cannot publish.
	ErrPublishNotSupportedForPlatform = errors.New("publishing not supported for platform")
	// ErrUnknownPlatform is returned when no adapter is registered for a platform id.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrDecryptionFailed is returned for any tamper, truncation or key mismatch.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrPublishTimeout is recorded when the upstream publish call exceeds its deadline.
	ErrPublishTimeout = errors.New("publish timed out")
	// ErrInvalidTransition is returned when a ledger entry is not in the expected state.
	ErrInvalidTransition = errors.New("invalid ledger transition")
)
