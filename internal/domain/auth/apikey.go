// Package auth resolves API keys to the customer or operator calling the API.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to order administration and reconciliation.
const ScopeAdmin = "admin"

// ErrNotFound is returned when no active key matches a hash.
var ErrNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity and permission data for a validated API key.
// Customer fields identify the storefront user the key was issued to.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string

	CustomerID    string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns hex(HMAC-SHA256(pepper, key)), the form keys are stored in.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
