// Package verify resolves platform identities to backend users via one-time
// tokens and static whitelists.
package verify

import (
	"errors"
	"time"
)

const (
	// MethodPin marks a user verified through a one-time token.
	MethodPin = "pin"
	// MethodWhitelist marks a user verified through a configured allow list.
	MethodWhitelist = "whitelist"

	// DefaultTokenType is the token type used when the caller does not pick one.
	DefaultTokenType = "connect"
	// DefaultBackendUserID is the backend account whitelist users are linked to.
	DefaultBackendUserID = "default"

	// FailureReply is the user-facing text for a failed token redemption.
	FailureReply = "Invalid or expired token."
)

// ErrTokenNotFound means no matching unconsumed, unexpired token exists.
var ErrTokenNotFound = errors.New("verification token not found")

// Token is a short-lived one-time credential linking a platform identity to a
// backend user.
type Token struct {
	ID            string
	Token         string
	BackendUserID string
	Platform      string
	Type          string
	ExpiresAt     time.Time
	ConsumedBy    string
	ConsumedAt    time.Time
	CreatedAt     time.Time
}

// TokenOptions narrows a generated token's scope.
type TokenOptions struct {
	Platform string
	TTL      time.Duration
	Type     string
}

// Result is the outcome of a token redemption.
type Result struct {
	Success       bool
	BackendUserID string
	Error         string
}
