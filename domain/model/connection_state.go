package model

import (
	"strings"
	"time"
)

const connectionStatePrefix = "oauth:state:"

// ConnectionState binds an outbound authorization request to its callback.
// It is stored under the random state token and consumed exactly once.
type ConnectionState struct {
	UserID       string    `json:"user_id"`
	PlatformID   string    `json:"platform_id"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	CallbackURL  string    `json:"callback_url"`
	Scope        []string  `json:"scope"`
	CreatedAt    time.Time `json:"created_at"`
}

// ConnectionStateKey namespaces OAuth state entries inside the shared correlation store.
func ConnectionStateKey(state string) string {
	return connectionStatePrefix + state
}

func IsConnectionStateKey(key string) bool {
	return strings.HasPrefix(key, connectionStatePrefix)
}
