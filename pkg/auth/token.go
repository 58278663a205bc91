package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// TokenPrefix identifies assetgate credentials
	TokenPrefix = "ag_"
	// TokenLength is the number of random bytes in a generated token (256 bits)
	TokenLength = 32
	// MinTokenLength is the shortest credential accepted, prefix included
	MinTokenLength = 24
	// displayChars is how much of the body is kept for log-safe identification
	displayChars = 8
)

var (
	// ErrMissingPrefix is returned for credentials without TokenPrefix
	ErrMissingPrefix = errors.New("credential must start with " + TokenPrefix)
	// ErrTooShort is returned for credentials shorter than MinTokenLength
	ErrTooShort = errors.New("credential is too short")
	// ErrBadEncoding is returned when the credential body is not base64url
	ErrBadEncoding = errors.New("credential body is not base64url")
)

// GenerateToken creates a new credential.
// Returns the raw token (shown once), its lookup hash, and its display prefix.
func GenerateToken() (token, tokenHash, displayPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	token = TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return token, HashToken(token), DisplayPrefix(token), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks prefix, length and encoding without touching any store
func ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ErrMissingPrefix
	}
	if len(token) < MinTokenLength {
		return ErrTooShort
	}

	body := strings.TrimPrefix(token, TokenPrefix)
	if _, err := base64.RawURLEncoding.DecodeString(body); err != nil {
		return fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	return nil
}

// DisplayPrefix returns the prefix plus the first characters of the body,
// safe to write to logs
func DisplayPrefix(token string) string {
	if !strings.HasPrefix(token, TokenPrefix) {
		return ""
	}

	body := strings.TrimPrefix(token, TokenPrefix)
	if len(body) >= displayChars {
		return TokenPrefix + body[:displayChars]
	}

	return TokenPrefix
}
