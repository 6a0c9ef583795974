package handler

import (
	"net/http"

	"github.com/xenking/martok-store/internal/domain/order"
)

// UpdateStatus moves an order along the fulfillment flow.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	target, _ := order.ParseStatus(req.Status)
	o, err := h.orders.AdminTransition(ctx, orderID(r), target, req.Note, req.TrackingNumber)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}

// ListFlagged lists orders awaiting manual reconciliation.
func (h *Handler) ListFlagged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orders, err := h.orders.Flagged(ctx)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	resp := make([]orderResponse, len(orders))
	for i := range orders {
		resp[i] = newOrderResponse(&orders[i])
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

// Resolve clears the reconciliation flag of an order.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req resolveRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	o, err := h.orders.Resolve(ctx, orderID(r), req.Note)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}
