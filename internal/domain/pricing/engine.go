// Package pricing computes server-authoritative order totals.
//
// Only product references and quantities come from the client. Unit prices
// come from the catalog, fees and tax from the settings snapshot.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/martok-store/internal/domain/product"
	"github.com/xenking/martok-store/internal/domain/settings"
)

var hundred = decimal.NewFromInt(100)

// ProductUnavailableError indicates a requested product is missing or inactive.
type ProductUnavailableError struct {
	ProductID string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s not found or unavailable", e.ProductID)
}

// OutOfStockError indicates the requested quantity exceeds available stock.
type OutOfStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// Item pairs a resolved catalog product with the requested quantity. A nil
// Product means the reference did not resolve.
type Item struct {
	ProductID string
	Product   *product.Product
	Quantity  int
}

// Line is the priced breakdown of one item.
type Line struct {
	ProductID       string
	Name            string
	Image           string
	UnitPrice       decimal.Decimal
	DiscountedPrice decimal.Decimal
	Quantity        int
	Total           decimal.Decimal
}

// Quote is the full monetary breakdown of a cart.
type Quote struct {
	Lines          []Line
	Subtotal       decimal.Decimal
	CouponDiscount decimal.Decimal
	ShippingFee    decimal.Decimal
	Tax            decimal.Decimal
	Total          decimal.Decimal
}

// DiscountFunc returns the coupon discount for a subtotal. It runs after the
// subtotal is known and before shipping and tax.
type DiscountFunc func(subtotal decimal.Decimal) (decimal.Decimal, error)

// NoDiscount is a DiscountFunc for carts without a coupon.
func NoDiscount(decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

// Price prices items under s. Availability of every item is checked before
// any total is computed. Stock is checked against the total quantity of a
// product across all items.
func Price(items []Item, s settings.Settings, discount DiscountFunc) (*Quote, error) {
	requested := make(map[string]int, len(items))
	for _, it := range items {
		if it.Product == nil || !it.Product.Active {
			return nil, &ProductUnavailableError{ProductID: it.ProductID}
		}
		requested[it.ProductID] += it.Quantity
		if n := requested[it.ProductID]; n > it.Product.Stock {
			return nil, &OutOfStockError{
				ProductID: it.ProductID,
				Name:      it.Product.Name,
				Requested: n,
				Available: it.Product.Stock,
			}
		}
	}

	q := &Quote{Lines: make([]Line, len(items))}
	subtotal := decimal.Zero
	for i, it := range items {
		p := it.Product
		unit := p.DiscountedPrice()
		lineTotal := unit.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)

		q.Lines[i] = Line{
			ProductID:       p.ID,
			Name:            p.Name,
			Image:           p.Image,
			UnitPrice:       p.Price,
			DiscountedPrice: unit,
			Quantity:        it.Quantity,
			Total:           lineTotal,
		}
		subtotal = subtotal.Add(lineTotal)
	}
	q.Subtotal = subtotal

	if discount == nil {
		discount = NoDiscount
	}
	couponDiscount, err := discount(subtotal)
	if err != nil {
		return nil, err
	}
	q.CouponDiscount = decimal.Min(couponDiscount, subtotal).Round(2)

	q.ShippingFee = ShippingFee(subtotal, s.Shipping)
	q.Tax = Tax(subtotal, q.CouponDiscount, q.ShippingFee, s.Tax)
	q.Total = q.Subtotal.Sub(q.CouponDiscount).Add(q.ShippingFee).Add(q.Tax).Round(2)

	return q, nil
}

// ShippingFee is free at or above the threshold, the standard fee below it.
func ShippingFee(subtotal decimal.Decimal, s settings.Shipping) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(s.FreeShippingThreshold) {
		return decimal.Zero
	}
	return s.StandardShippingFee.Round(2)
}

// Tax computes tax on the subtotal for tax-inclusive pricing, or on
// subtotal - couponDiscount + shippingFee otherwise.
func Tax(subtotal, couponDiscount, shippingFee decimal.Decimal, t settings.Tax) decimal.Decimal {
	if !t.Enabled || !t.Rate.IsPositive() {
		return decimal.Zero
	}
	taxable := subtotal
	if !t.Inclusive {
		taxable = subtotal.Sub(couponDiscount).Add(shippingFee)
	}
	if taxable.IsNegative() {
		return decimal.Zero
	}
	return taxable.Mul(t.Rate).Div(hundred).Round(2)
}

// MinorUnits converts an amount to integer minor units (paise, cents).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
