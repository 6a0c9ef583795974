// Package handler exposes checkout over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/auth"
	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/payment"
	"github.com/xenking/martok-store/internal/domain/pricing"
	"github.com/xenking/martok-store/internal/domain/settings"
)

// maxBodyBytes bounds request bodies, webhooks included.
const maxBodyBytes = 1 << 20

// Orders is the order lifecycle as used by the API.
type Orders interface {
	Quote(ctx context.Context, userID string, items []order.ItemRequest, couponCode string, st settings.Settings) (*pricing.Quote, error)
	Create(ctx context.Context, req order.CreateRequest, st settings.Settings) (*order.Order, error)
	Get(ctx context.Context, id string) (*order.Order, error)
	UserCancel(ctx context.Context, id, userID, reason string) (*order.Order, error)
	AdminTransition(ctx context.Context, id string, target order.Status, note, trackingNumber string) (*order.Order, error)
	Flagged(ctx context.Context) ([]order.Order, error)
	Resolve(ctx context.Context, id, note string) (*order.Order, error)
}

// Payments is the gateway reconciler as used by the API.
type Payments interface {
	CheckoutGateway(ctx context.Context, req order.CreateRequest, st settings.Settings) (*payment.Checkout, error)
	Verify(ctx context.Context, req payment.VerifyRequest, userID string, st settings.Settings) (*order.Order, error)
	ReportFailure(ctx context.Context, orderID, userID, description string) (*order.Order, error)
	HandleWebhook(ctx context.Context, body []byte, signature string, st settings.Settings) error
}

var (
	_ Orders   = (*order.Service)(nil)
	_ Payments = (*payment.Reconciler)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// Currency is used in order summaries.
	Currency string
	// Debug exposes internal error messages in responses.
	Debug bool
	// APIKeyPepper is the HMAC key API keys are hashed with.
	APIKeyPepper []byte
}

// Handler serves the checkout API.
type Handler struct {
	orders   Orders
	payments Payments
	settings settings.Provider
	apikeys  auth.Repository

	currency string
	debug    bool
	pepper   []byte
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, orders Orders, payments Payments, st settings.Provider, apikeys auth.Repository) *Handler {
	return &Handler{
		orders:   orders,
		payments: payments,
		settings: st,
		apikeys:  apikeys,
		currency: cfg.Currency,
		debug:    cfg.Debug,
		pepper:   cfg.APIKeyPepper,
	}
}

// Register adds the API routes to r.
func (h *Handler) Register(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/checkout/quote", h.customer(h.Quote)).Methods(http.MethodPost)
	api.HandleFunc("/orders/gateway", h.customer(h.CreateGatewayOrder)).Methods(http.MethodPost)
	api.HandleFunc("/orders/gateway/verify", h.customer(h.VerifyPayment)).Methods(http.MethodPost)
	api.HandleFunc("/orders/gateway/failure", h.customer(h.ReportPaymentFailure)).Methods(http.MethodPost)
	api.HandleFunc("/orders/chat", h.customer(h.createOffline(order.MethodChat))).Methods(http.MethodPost)
	api.HandleFunc("/orders/cod", h.customer(h.createOffline(order.MethodCOD))).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.customer(h.GetOrder)).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/cancel", h.customer(h.CancelOrder)).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/orders/{id}/status", h.admin(h.UpdateStatus)).Methods(http.MethodPost)
	admin.HandleFunc("/reconciliation", h.admin(h.ListFlagged)).Methods(http.MethodGet)
	admin.HandleFunc("/reconciliation/{id}/resolve", h.admin(h.Resolve)).Methods(http.MethodPost)

	// Authenticated by the body signature.
	api.HandleFunc("/webhooks/gateway", h.Webhook).Methods(http.MethodPost)
}

func orderID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func (h *Handler) currentSettings(ctx context.Context) (settings.Settings, error) {
	st, err := h.settings.Get(ctx)
	if err != nil {
		return settings.Settings{}, errors.Wrap(err, "get settings")
	}
	return *st, nil
}

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v validator) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		return &order.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return v.Validate()
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Warn("Write response", zap.Error(err))
	}
}
