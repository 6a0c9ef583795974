package product

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestProduct_DiscountedPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    decimal.Decimal
		discount Discount
		want     decimal.Decimal
	}{
		{
			name:  "inactive discount keeps price",
			price: d("500"),
			discount: Discount{
				Active:     false,
				Percentage: d("10"),
			},
			want: d("500"),
		},
		{
			name:  "percentage off",
			price: d("500"),
			discount: Discount{
				Active:     true,
				Percentage: d("10"),
			},
			want: d("450"),
		},
		{
			name:  "percentage above 100 is capped to free",
			price: d("80"),
			discount: Discount{
				Active:     true,
				Percentage: d("150"),
			},
			want: d("0"),
		},
		{
			name:  "fixed amount off",
			price: d("1299.99"),
			discount: Discount{
				Active: true,
				Amount: d("300"),
			},
			want: d("999.99"),
		},
		{
			name:  "fixed amount floored at zero",
			price: d("100"),
			discount: Discount{
				Active: true,
				Amount: d("250"),
			},
			want: d("0"),
		},
		{
			name:  "percentage wins over amount",
			price: d("200"),
			discount: Discount{
				Active:     true,
				Percentage: d("25"),
				Amount:     d("10"),
			},
			want: d("150"),
		},
		{
			name:     "active with no values keeps price",
			price:    d("42.50"),
			discount: Discount{Active: true},
			want:     d("42.50"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Product{ID: "p1", Price: tt.price, Discount: tt.discount}
			got := p.DiscountedPrice()
			assert.True(t, tt.want.Equal(got), "expected %s, got %s", tt.want, got)
		})
	}
}
