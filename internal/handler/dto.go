package handler

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/pricing"
)

const (
	maxItems       = 50
	maxNoteLength  = 500
	maxCouponCode  = 32
	maxTrackingLen = 64
)

type validator interface {
	Validate() error
}

func invalid(field, format string, args ...any) error {
	return &order.ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// money renders an amount as a JSON number with two decimals.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type itemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func validateItems(items []itemRequest) error {
	if len(items) == 0 {
		return order.ErrEmptyItems
	}
	if len(items) > maxItems {
		return invalid("items", "at most %d items allowed", maxItems)
	}
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return invalid(fmt.Sprintf("items[%d].productId", i), "required")
		}
	}
	return nil
}

func toItemRequests(items []itemRequest) []order.ItemRequest {
	out := make([]order.ItemRequest, len(items))
	for i, it := range items {
		out[i] = order.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

type quoteRequest struct {
	Items      []itemRequest `json:"items"`
	CouponCode string        `json:"couponCode"`
}

func (r *quoteRequest) Validate() error {
	if len(r.CouponCode) > maxCouponCode {
		return invalid("couponCode", "too long")
	}
	return validateItems(r.Items)
}

type createOrderRequest struct {
	Items           []itemRequest `json:"items"`
	CouponCode      string        `json:"couponCode"`
	ShippingAddress order.Address `json:"shippingAddress"`
	Notes           string        `json:"notes"`
}

func (r *createOrderRequest) Validate() error {
	if err := validateItems(r.Items); err != nil {
		return err
	}
	if len(r.CouponCode) > maxCouponCode {
		return invalid("couponCode", "too long")
	}
	if len(r.Notes) > maxNoteLength {
		return invalid("notes", "at most %d characters", maxNoteLength)
	}
	return r.ShippingAddress.Validate()
}

func (r *createOrderRequest) toDomain(c order.Customer, m order.PaymentMethod) order.CreateRequest {
	return order.CreateRequest{
		Customer:        c,
		Items:           toItemRequests(r.Items),
		CouponCode:      r.CouponCode,
		ShippingAddress: r.ShippingAddress,
		PaymentMethod:   m,
		Notes:           strings.TrimSpace(r.Notes),
	}
}

type verifyRequest struct {
	OrderID   string `json:"orderId"`
	IntentID  string `json:"intentId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

func (r *verifyRequest) Validate() error {
	switch {
	case r.OrderID == "":
		return invalid("orderId", "required")
	case r.IntentID == "":
		return invalid("intentId", "required")
	case r.PaymentID == "":
		return invalid("paymentId", "required")
	case r.Signature == "":
		return invalid("signature", "required")
	}
	return nil
}

type failureRequest struct {
	OrderID     string `json:"orderId"`
	Description string `json:"description"`
}

func (r *failureRequest) Validate() error {
	if r.OrderID == "" {
		return invalid("orderId", "required")
	}
	if len(r.Description) > maxNoteLength {
		return invalid("description", "at most %d characters", maxNoteLength)
	}
	return nil
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (r *cancelRequest) Validate() error {
	if len(r.Reason) > maxNoteLength {
		return invalid("reason", "at most %d characters", maxNoteLength)
	}
	return nil
}

type statusRequest struct {
	Status         string `json:"status"`
	Note           string `json:"note"`
	TrackingNumber string `json:"trackingNumber"`
}

func (r *statusRequest) Validate() error {
	if _, err := order.ParseStatus(r.Status); err != nil {
		return err
	}
	if len(r.Note) > maxNoteLength {
		return invalid("note", "at most %d characters", maxNoteLength)
	}
	if len(r.TrackingNumber) > maxTrackingLen {
		return invalid("trackingNumber", "too long")
	}
	return nil
}

type resolveRequest struct {
	Note string `json:"note"`
}

func (r *resolveRequest) Validate() error {
	if strings.TrimSpace(r.Note) == "" {
		return invalid("note", "required")
	}
	if len(r.Note) > maxNoteLength {
		return invalid("note", "at most %d characters", maxNoteLength)
	}
	return nil
}

type quoteLineResponse struct {
	ProductID       string      `json:"productId"`
	Name            string      `json:"name"`
	Image           string      `json:"image,omitempty"`
	Price           json.Number `json:"price"`
	DiscountedPrice json.Number `json:"discountedPrice"`
	Quantity        int         `json:"quantity"`
	Total           json.Number `json:"total"`
}

type quoteResponse struct {
	Items          []quoteLineResponse `json:"items"`
	Subtotal       json.Number         `json:"subtotal"`
	CouponDiscount json.Number         `json:"couponDiscount"`
	ShippingFee    json.Number         `json:"shippingFee"`
	Tax            json.Number         `json:"tax"`
	Total          json.Number         `json:"total"`
}

func newQuoteResponse(q *pricing.Quote) quoteResponse {
	items := make([]quoteLineResponse, len(q.Lines))
	for i, l := range q.Lines {
		items[i] = quoteLineResponse{
			ProductID:       l.ProductID,
			Name:            l.Name,
			Image:           l.Image,
			Price:           money(l.UnitPrice),
			DiscountedPrice: money(l.DiscountedPrice),
			Quantity:        l.Quantity,
			Total:           money(l.Total),
		}
	}
	return quoteResponse{
		Items:          items,
		Subtotal:       money(q.Subtotal),
		CouponDiscount: money(q.CouponDiscount),
		ShippingFee:    money(q.ShippingFee),
		Tax:            money(q.Tax),
		Total:          money(q.Total),
	}
}

type historyResponse struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type paymentResponse struct {
	Method     string `json:"method"`
	Status     string `json:"status"`
	IntentID   string `json:"intentId,omitempty"`
	PaymentID  string `json:"paymentId,omitempty"`
	OfflineRef string `json:"offlineRef,omitempty"`
}

type orderResponse struct {
	ID              string              `json:"id"`
	Number          string              `json:"number"`
	Status          string              `json:"status"`
	Payment         paymentResponse     `json:"payment"`
	Customer        order.Customer      `json:"customer"`
	Items           []quoteLineResponse `json:"items"`
	ShippingAddress order.Address       `json:"shippingAddress"`
	Subtotal        json.Number         `json:"subtotal"`
	CouponCode      string              `json:"couponCode,omitempty"`
	CouponDiscount  json.Number         `json:"couponDiscount"`
	ShippingFee     json.Number         `json:"shippingFee"`
	Tax             json.Number         `json:"tax"`
	Total           json.Number         `json:"total"`
	TrackingNumber  string              `json:"trackingNumber,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	History         []historyResponse   `json:"history"`
	DeliveredAt     *time.Time          `json:"deliveredAt,omitempty"`

	NeedsReconciliation bool   `json:"needsReconciliation,omitempty"`
	ReconciliationNote  string `json:"reconciliationNote,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newOrderResponse(o *order.Order) orderResponse {
	items := make([]quoteLineResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = quoteLineResponse{
			ProductID:       it.ProductID,
			Name:            it.Name,
			Image:           it.Image,
			Price:           money(it.Price),
			DiscountedPrice: money(it.DiscountedPrice),
			Quantity:        it.Quantity,
			Total:           money(it.Total),
		}
	}
	history := make([]historyResponse, len(o.History))
	for i, h := range o.History {
		history[i] = historyResponse{Status: string(h.Status), At: h.At, Note: h.Note}
	}
	return orderResponse{
		ID:     o.ID,
		Number: o.Number,
		Status: string(o.Status),
		Payment: paymentResponse{
			Method:     string(o.PaymentMethod),
			Status:     string(o.PaymentStatus),
			IntentID:   o.Payment.IntentID,
			PaymentID:  o.Payment.PaymentID,
			OfflineRef: o.Payment.OfflineRef,
		},
		Customer:            o.Customer,
		Items:               items,
		ShippingAddress:     o.ShippingAddress,
		Subtotal:            money(o.Subtotal),
		CouponCode:          o.CouponCode,
		CouponDiscount:      money(o.CouponDiscount),
		ShippingFee:         money(o.ShippingFee),
		Tax:                 money(o.Tax),
		Total:               money(o.Total),
		TrackingNumber:      o.TrackingNumber,
		Notes:               o.Notes,
		History:             history,
		DeliveredAt:         o.DeliveredAt,
		NeedsReconciliation: o.NeedsReconciliation,
		ReconciliationNote:  o.ReconciliationNote,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

type gatewayCheckoutResponse struct {
	Order   orderResponse `json:"order"`
	Gateway struct {
		KeyID    string `json:"keyId"`
		IntentID string `json:"intentId"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	} `json:"gateway"`
}

type offlineOrderResponse struct {
	Order orderResponse `json:"order"`
	// Message is the order summary for the merchant.
	Message string `json:"message"`
	ChatURL string `json:"chatUrl,omitempty"`
}
