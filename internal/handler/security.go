package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/auth"
	"github.com/xenking/martok-store/internal/domain/order"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

var (
	errUnauthorized = errors.New("unauthorized")
	errAdminOnly    = errors.New("admin scope required")
)

type principalKey struct{}

func principalFrom(ctx context.Context) *auth.APIKeyInfo {
	info, _ := ctx.Value(principalKey{}).(*auth.APIKeyInfo)
	return info
}

// customerOf is the order snapshot of the calling customer.
func customerOf(info *auth.APIKeyInfo) order.Customer {
	return order.Customer{
		ID:    info.CustomerID,
		Name:  info.CustomerName,
		Email: info.CustomerEmail,
		Phone: info.CustomerPhone,
	}
}

// authenticate resolves an API key by computing its HMAC-SHA256, looking the
// hash up and comparing it in constant time.
func (h *Handler) authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error) {
	if key == "" {
		return nil, errUnauthorized
	}
	hexHash := auth.HashKey(h.pepper, key)

	info, err := h.apikeys.FindByHash(ctx, hexHash)
	if err != nil {
		if !errors.Is(err, auth.ErrNotFound) {
			zctx.From(ctx).Warn("API key lookup failed", zap.Error(err))
		}
		return nil, errUnauthorized
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errUnauthorized
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, errUnauthorized
	}
	return info, nil
}

// customer requires a valid API key issued to a customer or operator.
func (h *Handler) customer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		info, err := h.authenticate(ctx, r.Header.Get(APIKeyHeader))
		if err != nil {
			h.writeError(ctx, w, err)
			return
		}
		ctx = context.WithValue(ctx, principalKey{}, info)
		ctx = zctx.With(ctx, zap.String("api_key_id", info.ID))
		next(w, r.WithContext(ctx))
	}
}

// admin additionally requires the admin scope.
func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return h.customer(func(w http.ResponseWriter, r *http.Request) {
		if !principalFrom(r.Context()).HasScope(auth.ScopeAdmin) {
			h.writeError(r.Context(), w, errAdminOnly)
			return
		}
		next(w, r)
	})
}
