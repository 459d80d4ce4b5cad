package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

const (
	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// RandomString returns n URL-safe characters drawn from a CSPRNG.
func RandomString(n int) (string, error) {
	buf := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)[:n], nil
}

// NewCodeVerifier returns a PKCE verifier; length is clamped to 43..128.
func NewCodeVerifier(length int) (string, error) {
	if length < MinVerifierLength {
		length = MinVerifierLength
	}
	if length > MaxVerifierLength {
		length = MaxVerifierLength
	}
	return RandomString(length)
}

// CodeChallenge is the S256 challenge: base64url(sha256(verifier)) without padding.
func CodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// NewState returns an unguessable OAuth state token.
func NewState() (string, error) {
	return RandomString(43)
}
