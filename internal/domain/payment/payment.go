// Package payment bridges the external payment gateway to the order
// lifecycle.
//
// The gateway flow creates a remote payment intent before the local order is
// persisted, then settles the order either when the client returns a signed
// confirmation or when the gateway pushes a webhook event. Both paths may
// race; the order lifecycle makes settlement idempotent.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/settings"
)

var (
	// ErrInvalidSignature is returned when a payment confirmation or webhook
	// body does not carry the expected HMAC.
	ErrInvalidSignature = errors.New("invalid payment signature")
	// ErrGatewayUnavailable is returned when the gateway could not be reached
	// or rejected the request. No local order exists in that case.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrMalformedEvent is returned for webhook bodies that cannot be parsed.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// GatewayError wraps a failed gateway call. It matches ErrGatewayUnavailable.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayUnavailable
}

// Credentials authenticate calls to the gateway.
type Credentials struct {
	KeyID     string
	KeySecret string
}

// IntentRequest asks the gateway to reserve an amount.
type IntentRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
}

// Intent is the gateway's reservation of a payment amount.
type Intent struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string
}

// Gateway is the remote payment gateway.
type Gateway interface {
	CreateIntent(ctx context.Context, creds Credentials, req IntentRequest) (*Intent, error)
}

// Orders is the part of the order lifecycle the reconciler drives.
type Orders interface {
	Draft(ctx context.Context, req order.CreateRequest, st settings.Settings) (*order.Order, error)
	Place(ctx context.Context, o *order.Order) error
	Get(ctx context.Context, id string) (*order.Order, error)
	GetByIntentID(ctx context.Context, intentID string) (*order.Order, error)
	Settle(ctx context.Context, id string, payment order.PaymentDetails, note string) (*order.Order, error)
	Fail(ctx context.Context, id, note string) (*order.Order, error)
}

var _ Orders = (*order.Service)(nil)

// Sign computes the confirmation signature the gateway hands to the client:
// hex(HMAC-SHA256(secret, intentID|paymentID)).
func Sign(secret, intentID, paymentID string) string {
	return hexMAC(secret, []byte(intentID+"|"+paymentID))
}

// ValidSignature reports whether signature matches Sign in constant time.
func ValidSignature(secret, intentID, paymentID, signature string) bool {
	if secret == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, intentID, paymentID)), []byte(signature))
}

// SignBody computes the webhook body signature hex(HMAC-SHA256(secret, body)).
func SignBody(secret string, body []byte) string {
	return hexMAC(secret, body)
}

// ValidBodySignature reports whether signature is SignBody(secret, body).
func ValidBodySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(SignBody(secret, body)), []byte(signature))
}

func hexMAC(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
