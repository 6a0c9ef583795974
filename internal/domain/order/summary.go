package order

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Summary renders o as a plain text message for hand-off through a chat
// channel. Amounts are formatted with the given currency symbol.
func Summary(o *Order, currency string) string {
	var b strings.Builder
	money := func(label string, v decimal.Decimal) {
		fmt.Fprintf(&b, "%s: %s%s\n", label, currency, v.StringFixed(2))
	}

	b.WriteString("*New Order from Martok Store*\n\n")
	b.WriteString("*Order Details:*\n")
	fmt.Fprintf(&b, "Order ID: %s\n", o.Number)
	fmt.Fprintf(&b, "Customer: %s\n", o.Customer.Name)
	fmt.Fprintf(&b, "Email: %s\n", o.Customer.Email)
	phone := o.Customer.Phone
	if phone == "" {
		phone = "Not provided"
	}
	fmt.Fprintf(&b, "Phone: %s\n\n", phone)

	b.WriteString("*Products:*\n")
	for i, it := range o.Items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, it.Name)
		fmt.Fprintf(&b, "   Quantity: %d\n", it.Quantity)
		fmt.Fprintf(&b, "   Price: %s%s each\n", currency, it.DiscountedPrice.StringFixed(2))
		fmt.Fprintf(&b, "   Total: %s%s\n", currency, it.Total.StringFixed(2))
		if it.Image != "" {
			fmt.Fprintf(&b, "   Image: %s\n", it.Image)
		}
		b.WriteString("\n")
	}

	b.WriteString("*Order Summary:*\n")
	money("Subtotal", o.Subtotal)
	if o.CouponDiscount.IsPositive() {
		fmt.Fprintf(&b, "Coupon Discount (%s): -%s%s\n", o.CouponCode, currency, o.CouponDiscount.StringFixed(2))
	}
	if o.ShippingFee.IsPositive() {
		money("Shipping", o.ShippingFee)
	}
	if o.Tax.IsPositive() {
		money("Tax", o.Tax)
	}
	fmt.Fprintf(&b, "*Total: %s%s*\n\n", currency, o.Total.StringFixed(2))

	a := o.ShippingAddress
	b.WriteString("*Shipping Address:*\n")
	fmt.Fprintf(&b, "%s\n%s\n%s, %s\n%s, %s\n\n", a.FullName, a.Address, a.City, a.State, a.Pincode, a.Country)

	b.WriteString("Please confirm this order and provide payment instructions.")
	return b.String()
}

// ChatURL builds the click-to-chat link that opens a conversation with number
// prefilled with text. Non-digit characters of number are dropped.
func ChatURL(number, text string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	return "https://wa.me/" + digits + "?text=" + strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
}
