// Package crypto encrypts OAuth tokens at rest.
//
// Tokens are sealed with XChaCha20-Poly1305 under a key derived (SHA-256) from
// the configured secret. Every ciphertext is bound to a fixed application tag
// as additional data, so blobs produced elsewhere do not decrypt here.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"social-publisher/domain/model"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	associatedData = "social-publisher:oauth-token:v1"
	minSecretLen   = 16

	// DefaultRefreshBuffer is how long before expiry a token counts as due for refresh.
	DefaultRefreshBuffer = 5 * time.Minute
)

var ErrWeakSecret = errors.New("token encryption secret is missing or too short")

// Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// TokenBundle is an encrypted access/refresh pair sharing one IV.
type TokenBundle struct {
	AccessToken  string
	RefreshToken *string
	IV           string
}

func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	key := sha256.Sum256([]byte(secret))
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random IV. Both results are base64.
func (c *Cipher) Encrypt(plaintext string) (ciphertext, iv string, err error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}
	sealed := c.seal(nonce, 0, plaintext)
	return sealed, base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any failure is reported as
// model.ErrDecryptionFailed without further detail.
func (c *Cipher) Decrypt(ciphertext, iv string) (string, error) {
	nonce, err := c.decodeNonce(iv)
	if err != nil {
		return "", model.ErrDecryptionFailed
	}
	return c.open(nonce, 0, ciphertext)
}

// EncryptTokenPair seals the access token and, when non-empty, the refresh
// token under one stored IV. Each slot uses its own nonce derived from the IV.
func (c *Cipher) EncryptTokenPair(accessToken, refreshToken string) (*TokenBundle, error) {
	access, iv, err := c.Encrypt(accessToken)
	if err != nil {
		return nil, err
	}
	bundle := &TokenBundle{AccessToken: access, IV: iv}
	if refreshToken != "" {
		nonce, _ := base64.StdEncoding.DecodeString(iv)
		refresh := c.seal(nonce, 1, refreshToken)
		bundle.RefreshToken = &refresh
	}
	return bundle, nil
}

// DecryptTokenPair reverses EncryptTokenPair. refreshToken is empty when none was stored.
func (c *Cipher) DecryptTokenPair(bundle *TokenBundle) (accessToken, refreshToken string, err error) {
	if bundle == nil {
		return "", "", model.ErrDecryptionFailed
	}
	nonce, err := c.decodeNonce(bundle.IV)
	if err != nil {
		return "", "", model.ErrDecryptionFailed
	}
	if accessToken, err = c.open(nonce, 0, bundle.AccessToken); err != nil {
		return "", "", err
	}
	if bundle.RefreshToken != nil && *bundle.RefreshToken != "" {
		if refreshToken, err = c.open(nonce, 1, *bundle.RefreshToken); err != nil {
			return "", "", err
		}
	}
	return accessToken, refreshToken, nil
}

func (c *Cipher) seal(nonce []byte, slot byte, plaintext string) string {
	n := slotNonce(nonce, slot)
	out := c.aead.Seal(nil, n, []byte(plaintext), slotAAD(slot))
	return base64.StdEncoding.EncodeToString(out)
}

func (c *Cipher) open(nonce []byte, slot byte, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(raw) < c.aead.Overhead() {
		return "", model.ErrDecryptionFailed
	}
	plain, err := c.aead.Open(nil, slotNonce(nonce, slot), raw, slotAAD(slot))
	if err != nil {
		return "", model.ErrDecryptionFailed
	}
	return string(plain), nil
}

func (c *Cipher) decodeNonce(iv string) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return nil, err
	}
	if len(nonce) != c.aead.NonceSize() {
		return nil, model.ErrDecryptionFailed
	}
	return nonce, nil
}

// slotNonce keeps the access and refresh ciphertexts of one bundle on distinct nonces.
func slotNonce(nonce []byte, slot byte) []byte {
	n := make([]byte, len(nonce))
	copy(n, nonce)
	n[len(n)-1] ^= slot
	return n
}

func slotAAD(slot byte) []byte {
	if slot == 0 {
		return []byte(associatedData)
	}
	return []byte(associatedData + ":refresh")
}

// CalculateExpiry returns now + expiresIn seconds, or nil when expiresIn is not positive.
func CalculateExpiry(now time.Time, expiresIn int64) *time.Time {
	if expiresIn <= 0 {
		return nil
	}
	at := now.Add(time.Duration(expiresIn) * time.Second).UTC()
	return &at
}

// NeedsRefresh reports whether expiresAt falls within buffer of now. Tokens
// without a known expiry never need a refresh.
func NeedsRefresh(expiresAt *time.Time, now time.Time, buffer time.Duration) bool {
	if expiresAt == nil {
		return false
	}
	return !now.Add(buffer).Before(*expiresAt)
}
