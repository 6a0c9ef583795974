package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned by AdjustStock when applying the delta
	// would drive the stock count below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

var hundred = decimal.NewFromInt(100)

// Product is a catalog item as seen by checkout.
type Product struct {
	ID        string
	Name      string
	Image     string
	Price     decimal.Decimal
	Discount  Discount
	Stock     int
	SoldCount int
	Active    bool
}

// Discount is a product-level markdown. Percentage wins over Amount when both
// are set.
type Discount struct {
	Active     bool
	Percentage decimal.Decimal
	Amount     decimal.Decimal
}

// DiscountedPrice returns the unit price after the product's own discount.
// The result is never negative and never exceeds Price.
func (p Product) DiscountedPrice() decimal.Decimal {
	if !p.Discount.Active {
		return p.Price
	}

	var price decimal.Decimal
	switch {
	case p.Discount.Percentage.IsPositive():
		pct := decimal.Min(p.Discount.Percentage, hundred)
		price = p.Price.Sub(p.Price.Mul(pct).Div(hundred))
	case p.Discount.Amount.IsPositive():
		price = p.Price.Sub(p.Discount.Amount)
	default:
		return p.Price
	}

	if price.IsNegative() {
		return decimal.Zero
	}
	if price.GreaterThan(p.Price) {
		return p.Price
	}
	return price.Round(2)
}

// Repository is the catalog store consumed by checkout.
type Repository interface {
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// AdjustStock applies stock += deltaQty and soldCount += deltaSold as a
	// single conditional update. It returns ErrInsufficientStock without
	// changing anything when the resulting stock would be negative.
	AdjustStock(ctx context.Context, id string, deltaQty, deltaSold int) error
}
