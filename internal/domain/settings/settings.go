// Package settings holds the storefront-wide checkout configuration: which
// payment methods are enabled, their credentials, shipping fees and tax.
//
// The document is a singleton owned by the admin side of the store. Checkout
// only reads it, once per request, and passes the snapshot down explicitly.
package settings

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Repository.Load when the singleton row has not
// been created yet.
var ErrNotFound = errors.New("settings not found")

// Settings is a read-only snapshot of the checkout configuration.
type Settings struct {
	Payment  Payment  `json:"payment"`
	Shipping Shipping `json:"shipping"`
	Tax      Tax      `json:"tax"`
}

// Payment groups per-method toggles and credentials.
type Payment struct {
	Gateway Gateway `json:"gateway"`
	Chat    Chat    `json:"chat"`
	COD     COD     `json:"cod"`
}

// Gateway configures the card/UPI payment gateway.
type Gateway struct {
	Enabled       bool   `json:"enabled"`
	KeyID         string `json:"keyId"`
	KeySecret     string `json:"keySecret"`
	WebhookSecret string `json:"webhookSecret"`
}

// Chat configures the chat hand-off flow. Number is the merchant's chat
// account phone number in any human format.
type Chat struct {
	Enabled bool   `json:"enabled"`
	Number  string `json:"number"`
}

// COD configures cash on delivery.
type COD struct {
	Enabled        bool            `json:"enabled"`
	MinOrderAmount decimal.Decimal `json:"minOrderAmount"`
}

// Shipping holds the flat-rate shipping policy.
type Shipping struct {
	FreeShippingThreshold decimal.Decimal `json:"freeShippingThreshold"`
	StandardShippingFee   decimal.Decimal `json:"standardShippingFee"`
}

// Tax holds the single storewide tax rate. Rate is a percentage.
type Tax struct {
	Enabled   bool            `json:"enabled"`
	Rate      decimal.Decimal `json:"rate"`
	Inclusive bool            `json:"inclusive"`
}

// Defaults returns the settings used when the singleton is created lazily.
func Defaults() Settings {
	return Settings{
		Payment: Payment{
			Gateway: Gateway{Enabled: true},
			Chat:    Chat{Enabled: true},
			COD:     COD{Enabled: false, MinOrderAmount: decimal.Zero},
		},
		Shipping: Shipping{
			FreeShippingThreshold: decimal.NewFromInt(500),
			StandardShippingFee:   decimal.NewFromInt(50),
		},
		Tax: Tax{
			Enabled: false,
			Rate:    decimal.Zero,
		},
	}
}

// Provider returns the current settings snapshot.
type Provider interface {
	Get(ctx context.Context) (*Settings, error)
}

// Repository persists the singleton document.
type Repository interface {
	Load(ctx context.Context) (*Settings, error)
	// Init stores s only if no settings exist yet and returns whatever is
	// stored afterwards.
	Init(ctx context.Context, s Settings) (*Settings, error)
}
