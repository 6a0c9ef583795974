package handler

import (
	"context"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/payment"
	"github.com/xenking/martok-store/internal/domain/pricing"
)

// Error kinds returned to clients.
const (
	KindValidation     = "validation_error"
	KindUnavailable    = "product_unavailable"
	KindOutOfStock     = "out_of_stock"
	KindSignature      = "invalid_signature"
	KindGateway        = "gateway_unavailable"
	KindStaleState     = "stale_order_state"
	KindNotFound       = "not_found"
	KindForbidden      = "forbidden"
	KindUnauthorized   = "unauthorized"
	KindMethodDisabled = "payment_method_disabled"
	KindInternal       = "internal"
)

const internalErrMessage = "internal error"

type errorResponse struct {
	Code    int    `json:"code"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// mapError converts domain errors to API error responses. Anything not
// recognized is an internal error.
func mapError(err error) errorResponse {
	var (
		validationErr  *order.ValidationError
		quantityErr    *order.InvalidQuantityError
		minimumErr     *order.MinimumAmountError
		disabledErr    *order.MethodDisabledError
		unavailableErr *pricing.ProductUnavailableError
		stockErr       *pricing.OutOfStockError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &quantityErr),
		errors.As(err, &minimumErr),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, payment.ErrMalformedEvent):
		return errorResponse{Code: http.StatusBadRequest, Kind: KindValidation, Message: err.Error()}
	case errors.As(err, &disabledErr):
		return errorResponse{Code: http.StatusBadRequest, Kind: KindMethodDisabled, Message: disabledErr.Error()}
	case errors.As(err, &unavailableErr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Kind: KindUnavailable, Message: unavailableErr.Error()}
	case errors.As(err, &stockErr):
		return errorResponse{Code: http.StatusUnprocessableEntity, Kind: KindOutOfStock, Message: stockErr.Error()}
	case errors.Is(err, payment.ErrInvalidSignature):
		return errorResponse{Code: http.StatusBadRequest, Kind: KindSignature, Message: "payment verification failed"}
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return errorResponse{Code: http.StatusBadGateway, Kind: KindGateway, Message: "payment gateway unavailable, try again"}
	case errors.Is(err, order.ErrStaleState):
		return errorResponse{Code: http.StatusConflict, Kind: KindStaleState, Message: err.Error()}
	case errors.Is(err, order.ErrNotFound):
		return errorResponse{Code: http.StatusNotFound, Kind: KindNotFound, Message: "order not found"}
	case errors.Is(err, order.ErrForbidden), errors.Is(err, errAdminOnly):
		return errorResponse{Code: http.StatusForbidden, Kind: KindForbidden, Message: err.Error()}
	case errors.Is(err, errUnauthorized):
		return errorResponse{Code: http.StatusUnauthorized, Kind: KindUnauthorized, Message: "unauthorized"}
	default:
		return errorResponse{Code: http.StatusInternalServerError, Kind: KindInternal, Message: internalErrMessage}
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := mapError(err)
	if resp.Kind == KindInternal {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		if h.debug {
			resp.Message = err.Error()
		}
	}
	writeJSON(ctx, w, resp.Code, resp)
}
