package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/payment"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Gateway-Signature"

// CreateGatewayOrder opens a gateway intent and creates the pending order
// bound to it.
func (h *Handler) CreateGatewayOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createOrderRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	st, err := h.currentSettings(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	c, err := h.payments.CheckoutGateway(ctx, req.toDomain(customerOf(principalFrom(ctx)), order.MethodGateway), st)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	var resp gatewayCheckoutResponse
	resp.Order = newOrderResponse(c.Order)
	resp.Gateway.KeyID = c.KeyID
	resp.Gateway.IntentID = c.Intent.ID
	resp.Gateway.Amount = c.Intent.AmountMinor
	resp.Gateway.Currency = c.Intent.Currency
	writeJSON(ctx, w, http.StatusCreated, resp)
}

// VerifyPayment settles an order from the client-side payment confirmation.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	st, err := h.currentSettings(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	o, err := h.payments.Verify(ctx, payment.VerifyRequest{
		OrderID:   req.OrderID,
		IntentID:  req.IntentID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	}, principalFrom(ctx).CustomerID, st)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}

// ReportPaymentFailure records a client-side payment failure.
func (h *Handler) ReportPaymentFailure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req failureRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	o, err := h.payments.ReportFailure(ctx, req.OrderID, principalFrom(ctx).CustomerID, req.Description)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}

// Webhook applies a gateway event. Unknown events are acknowledged so the
// gateway stops retrying them.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(ctx, w, errors.Wrap(payment.ErrMalformedEvent, "read body"))
		return
	}
	st, err := h.currentSettings(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	if err := h.payments.HandleWebhook(ctx, body, r.Header.Get(SignatureHeader), st); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, map[string]string{"status": "ok"})
}
