package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal, optionally capped.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed takes a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

var (
	// ErrNotFound is returned when no coupon exists for a code.
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageLimitReached is returned when recording a use would exceed the
	// coupon's global usage limit.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrUserLimitReached is returned when recording a use would exceed the
	// per-user usage limit.
	ErrUserLimitReached = errors.New("coupon user usage limit reached")
)

var hundred = decimal.NewFromInt(100)

// Coupon is a discount code with its eligibility rules and usage ledger.
type Coupon struct {
	Code               string
	Description        string
	Type               DiscountType
	Value              decimal.Decimal
	MinimumOrderAmount decimal.Decimal
	// MaximumDiscount caps percentage discounts. Zero means no cap.
	MaximumDiscount decimal.Decimal
	StartDate       time.Time
	EndDate         time.Time
	// UsageLimit is the global limit. Zero means unlimited.
	UsageLimit     int
	UsedCount      int
	UserUsageLimit int
	Usage          []Usage
	Active         bool
}

// Usage records how many times one user has redeemed a coupon.
type Usage struct {
	UserID   string
	Count    int
	LastUsed time.Time
}

// NormalizeCode canonicalizes a user supplied code. Codes are stored upper case.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether the coupon is active, inside its validity window and
// below its global usage limit.
func (c *Coupon) Valid(now time.Time) bool {
	if !c.Active {
		return false
	}
	if now.Before(c.StartDate) || now.After(c.EndDate) {
		return false
	}
	if c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit {
		return false
	}
	return true
}

// UsedBy returns how many times userID has redeemed the coupon.
func (c *Coupon) UsedBy(userID string) int {
	for _, u := range c.Usage {
		if u.UserID == userID {
			return u.Count
		}
	}
	return 0
}

// UsableBy reports whether the coupon is valid and userID is still below the
// per-user limit.
func (c *Coupon) UsableBy(userID string, now time.Time) bool {
	if !c.Valid(now) {
		return false
	}
	return c.UsedBy(userID) < c.userLimit()
}

func (c *Coupon) userLimit() int {
	if c.UserUsageLimit < 1 {
		return 1
	}
	return c.UserUsageLimit
}

// Discount computes the discount for subtotal, rounded to 2 decimal places.
// It does not check validity; subtotals below the minimum order amount get
// no discount.
func (c *Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || subtotal.LessThan(c.MinimumOrderAmount) {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch c.Type {
	case DiscountPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred)
		if c.MaximumDiscount.IsPositive() && amount.GreaterThan(c.MaximumDiscount) {
			amount = c.MaximumDiscount
		}
	case DiscountFixed:
		amount = decimal.Min(c.Value, subtotal)
	default:
		return decimal.Zero
	}

	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount.Round(2)
}

// Repository provides lookup and usage bookkeeping of coupons.
type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// RecordUsage increments the global used count and userID's usage record
	// in one conditional update. It returns ErrUsageLimitReached or
	// ErrUserLimitReached, changing nothing, when a limit would be exceeded.
	RecordUsage(ctx context.Context, code, userID string, at time.Time) error
	ListCodes(ctx context.Context) ([]string, error)
}
