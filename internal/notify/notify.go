// Package notify delivers order notifications and reconciliation alerts.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/order"
)

const (
	// OrdersStream receives one entry per confirmed order.
	OrdersStream = "martok:orders:confirmed"
	// AlertsStream receives orders that need manual reconciliation.
	AlertsStream = "martok:orders:reconciliation"
)

var (
	_ order.Notifier = (*StreamPublisher)(nil)
	_ order.Notifier = (*LogNotifier)(nil)
)

// streamAdder is the subset of redis.Cmdable the publisher uses.
type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher appends notifications to Redis streams for downstream
// consumers (mailers, the ops chat bridge).
type StreamPublisher struct {
	rdb      streamAdder
	currency string
	maxLen   int64
	now      func() time.Time
}

// NewStreamPublisher creates a StreamPublisher. Streams are trimmed to about
// maxLen entries.
func NewStreamPublisher(rdb redis.Cmdable, currency string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{
		rdb:      rdb,
		currency: currency,
		maxLen:   maxLen,
		now:      time.Now,
	}
}

// OrderConfirmed publishes o with its human readable summary.
func (p *StreamPublisher) OrderConfirmed(ctx context.Context, o *order.Order) error {
	return p.add(ctx, OrdersStream, map[string]any{
		"order_id":       o.ID,
		"number":         o.Number,
		"customer_id":    o.Customer.ID,
		"customer_email": o.Customer.Email,
		"payment_method": string(o.PaymentMethod),
		"total":          o.Total.StringFixed(2),
		"currency":       p.currency,
		"summary":        order.Summary(o, p.currency),
		"published_at":   p.now().UnixMilli(),
	})
}

// ReconciliationNeeded publishes an alert for o.
func (p *StreamPublisher) ReconciliationNeeded(ctx context.Context, o *order.Order, reason string) error {
	return p.add(ctx, AlertsStream, map[string]any{
		"order_id":       o.ID,
		"number":         o.Number,
		"status":         string(o.Status),
		"payment_status": string(o.PaymentStatus),
		"intent_id":      o.Payment.IntentID,
		"payment_id":     o.Payment.PaymentID,
		"reason":         reason,
		"published_at":   p.now().UnixMilli(),
	})
}

func (p *StreamPublisher) add(ctx context.Context, stream string, values map[string]any) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: values,
	}).Err()
	if err != nil {
		return errors.Wrapf(err, "xadd %s", stream)
	}
	return nil
}

// LogNotifier writes notifications to the log. It is used when no Redis is
// configured.
type LogNotifier struct {
	lg *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	return &LogNotifier{lg: lg}
}

func (n *LogNotifier) OrderConfirmed(_ context.Context, o *order.Order) error {
	n.lg.Info("Order confirmed",
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return nil
}

func (n *LogNotifier) ReconciliationNeeded(_ context.Context, o *order.Order, reason string) error {
	n.lg.Error("Order needs reconciliation",
		zap.String("order_id", o.ID),
		zap.String("number", o.Number),
		zap.String("status", string(o.Status)),
		zap.String("payment_status", string(o.PaymentStatus)),
		zap.String("reason", reason),
	)
	return nil
}
