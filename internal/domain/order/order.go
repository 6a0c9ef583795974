package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

const (
	MethodGateway PaymentMethod = "gateway"
	MethodChat    PaymentMethod = "chat"
	MethodCOD     PaymentMethod = "cod"
)

// Offline reports whether the method is settled by an admin rather than by
// the payment gateway.
func (m PaymentMethod) Offline() bool {
	return m == MethodChat || m == MethodCOD
}

// PaymentStatus tracks the money side of an order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Status tracks the fulfilment side of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// ParseStatus validates s as a known order status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusReturned:
		return st, nil
	default:
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
}

var (
	// ErrNotFound is returned when no order matches the lookup.
	ErrNotFound = errors.New("order not found")
	// ErrStaleState is returned by Repository.Update when the stored order no
	// longer matches the expected prior state.
	ErrStaleState = errors.New("order is not in the expected state")
	// ErrForbidden is returned when a customer acts on another customer's order.
	ErrForbidden = errors.New("order belongs to another customer")
	// ErrEmptyItems is returned when an order has no line items.
	ErrEmptyItems = errors.New("items required")
)

// ValidationError reports malformed order input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// MethodDisabledError indicates the payment method is switched off in settings.
type MethodDisabledError struct {
	Method PaymentMethod
}

func (e *MethodDisabledError) Error() string {
	return fmt.Sprintf("payment method %s is disabled", e.Method)
}

// MinimumAmountError indicates the order total is below the method's minimum.
type MinimumAmountError struct {
	Method  PaymentMethod
	Minimum decimal.Decimal
	Total   decimal.Decimal
}

func (e *MinimumAmountError) Error() string {
	return fmt.Sprintf("minimum order amount for %s is %s, got %s", e.Method, e.Minimum.StringFixed(2), e.Total.StringFixed(2))
}

// TransitionError indicates a status change not permitted from the order's
// current state. It matches ErrStaleState.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrStaleState
}

// Customer is the ordering user as captured at creation time.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// LineItem is one product line with prices snapshotted at creation time.
type LineItem struct {
	ProductID       string          `json:"productId"`
	Name            string          `json:"name"`
	Image           string          `json:"image"`
	Price           decimal.Decimal `json:"price"`
	DiscountedPrice decimal.Decimal `json:"discountedPrice"`
	Quantity        int             `json:"quantity"`
	Total           decimal.Decimal `json:"total"`
}

// Address is a shipping destination.
type Address struct {
	FullName string `json:"fullName"`
	Address  string `json:"address"`
	City     string `json:"city"`
	State    string `json:"state"`
	Pincode  string `json:"pincode"`
	Country  string `json:"country"`
}

// Validate reports the first missing field.
func (a Address) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"fullName", a.FullName},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"pincode", a.Pincode},
	} {
		if f.value == "" {
			return &ValidationError{Field: "shippingAddress." + f.name, Reason: "required"}
		}
	}
	return nil
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

// PaymentDetails holds method-specific payment references.
type PaymentDetails struct {
	IntentID   string `json:"intentId,omitempty"`
	PaymentID  string `json:"paymentId,omitempty"`
	Signature  string `json:"signature,omitempty"`
	OfflineRef string `json:"offlineRef,omitempty"`
}

// Order is a customer order with its full monetary breakdown.
type Order struct {
	ID              string
	Number          string
	Customer        Customer
	Items           []LineItem
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	Status          Status
	History         []StatusChange

	Subtotal       decimal.Decimal
	CouponCode     string
	CouponDiscount decimal.Decimal
	ShippingFee    decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal

	Payment        PaymentDetails
	TrackingNumber string
	Notes          string
	DeliveredAt    *time.Time

	// InventoryCommitted is set once stock was decremented for this order, so
	// the inverse is applied only when there is something to restore.
	InventoryCommitted bool
	// NeedsReconciliation marks orders whose bookkeeping diverged from the
	// payment outcome and must be fixed by an operator.
	NeedsReconciliation bool
	ReconciliationNote  string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Guard is the expected prior state of a guarded update. Empty fields are
// not checked.
type Guard struct {
	Status        Status
	PaymentStatus PaymentStatus
}

// Patch lists the fields an update changes. Nil fields are left as is.
type Patch struct {
	Status        *Status
	PaymentStatus *PaymentStatus
	AppendHistory []StatusChange
	// Payment fields are merged; empty values keep the stored ones.
	Payment        *PaymentDetails
	TrackingNumber *string
	Notes          *string
	// DeliveredAt is stored only if the order has no delivery time yet.
	DeliveredAt         *time.Time
	InventoryCommitted  *bool
	NeedsReconciliation *bool
	ReconciliationNote  *string
}

// Repository persists orders. Update applies patch atomically and only when
// the stored order matches guard, returning ErrStaleState otherwise.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByIntentID(ctx context.Context, intentID string) (*Order, error)
	Update(ctx context.Context, id string, guard Guard, patch Patch) (*Order, error)
	ListFlagged(ctx context.Context) ([]Order, error)
	ListExpiredPending(ctx context.Context, method PaymentMethod, before time.Time) ([]Order, error)
}

// Notifier delivers order events to customers and operators. Failures are
// logged and never undo the transition that triggered them.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *Order) error
	ReconciliationNeeded(ctx context.Context, o *Order, reason string) error
}

func ptr[T any](v T) *T {
	return &v
}
