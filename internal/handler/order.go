package handler

import (
	"net/http"

	"github.com/xenking/martok-store/internal/domain/auth"
	"github.com/xenking/martok-store/internal/domain/order"
)

// Quote prices a cart without creating anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req quoteRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	st, err := h.currentSettings(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	userID := principalFrom(ctx).CustomerID
	q, err := h.orders.Quote(ctx, userID, toItemRequests(req.Items), req.CouponCode, st)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newQuoteResponse(q))
}

// createOffline places an order paid outside the gateway. Chat orders get
// a prefilled link to the merchant's chat number.
func (h *Handler) createOffline(method order.PaymentMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
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
		o, err := h.orders.Create(ctx, req.toDomain(customerOf(principalFrom(ctx)), method), st)
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}

		resp := offlineOrderResponse{
			Order:   newOrderResponse(o),
			Message: order.Summary(o, h.currency),
		}
		if method == order.MethodChat {
			resp.ChatURL = order.ChatURL(st.Payment.Chat.Number, resp.Message)
		}
		writeJSON(ctx, w, http.StatusCreated, resp)
	}
}

// GetOrder returns an order to its owner or an operator.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.orders.Get(ctx, orderID(r))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	p := principalFrom(ctx)
	if o.Customer.ID != p.CustomerID && !p.HasScope(auth.ScopeAdmin) {
		// Not revealing other customers' orders.
		h.writeError(ctx, w, order.ErrNotFound)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}

// CancelOrder cancels the caller's own order.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req cancelRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	o, err := h.orders.UserCancel(ctx, orderID(r), principalFrom(ctx).CustomerID, req.Reason)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}
