package order

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	o := &Order{
		Number:   "ORD-123456-ABCDEF",
		Customer: Customer{Name: "Asha", Email: "asha@example.com"},
		Items: []LineItem{{
			Name:            "Chrono",
			Image:           "https://img.example.com/chrono.jpg",
			DiscountedPrice: d("450"),
			Quantity:        2,
			Total:           d("900"),
		}},
		ShippingAddress: testAddress(),
		Subtotal:        d("900"),
		CouponCode:      "PERCENT10",
		CouponDiscount:  d("90"),
		Total:           d("810"),
	}

	s := Summary(o, "₹")

	for _, want := range []string{
		"Order ID: ORD-123456-ABCDEF",
		"Phone: Not provided",
		"1. Chrono",
		"   Quantity: 2",
		"   Price: ₹450.00 each",
		"   Image: https://img.example.com/chrono.jpg",
		"Subtotal: ₹900.00",
		"Coupon Discount (PERCENT10): -₹90.00",
		"*Total: ₹810.00*",
		"Bengaluru, KA",
		"560001, India",
	} {
		assert.Contains(t, s, want)
	}
	assert.NotContains(t, s, "Shipping:")
	assert.NotContains(t, s, "Tax:")
}

func TestChatURL(t *testing.T) {
	link := ChatURL("+91 98765-43210", "Order #1 & co")

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "wa.me", u.Host)
	assert.Equal(t, "/919876543210", u.Path)
	assert.Equal(t, "Order #1 & co", u.Query().Get("text"))
	assert.NotContains(t, link, "+")
}
