package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ExpiredNote is recorded on orders failed by the Sweeper.
const ExpiredNote = "payment window expired"

// Sweeper fails gateway orders that stayed pending past their payment
// window. Offline orders wait for an operator and are left alone.
type Sweeper struct {
	svc *Service
	ttl time.Duration
	lg  *zap.Logger
	now func() time.Time
}

// NewSweeper creates a Sweeper failing orders older than ttl.
func NewSweeper(svc *Service, ttl time.Duration, lg *zap.Logger) *Sweeper {
	return &Sweeper{svc: svc, ttl: ttl, lg: lg, now: time.Now}
}

// Sweep fails every expired pending gateway order and returns how many were
// failed. A late capture for a swept order is flagged by Settle.
func (sw *Sweeper) Sweep(ctx context.Context) (int, error) {
	expired, err := sw.svc.orders.ListExpiredPending(ctx, MethodGateway, sw.now().Add(-sw.ttl))
	if err != nil {
		return 0, errors.Wrap(err, "list expired orders")
	}

	var n int
	for _, o := range expired {
		failed, err := sw.svc.Fail(ctx, o.ID, ExpiredNote)
		if err != nil {
			sw.lg.Warn("Failed to expire order", zap.String("order_id", o.ID), zap.Error(err))
			continue
		}
		if failed.Status == StatusCancelled && failed.PaymentStatus == PaymentFailed {
			n++
		}
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.Sweep(ctx)
			if err != nil {
				sw.lg.Error("Order sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				sw.lg.Info("Expired pending orders", zap.Int("count", n))
			}
		}
	}
}
