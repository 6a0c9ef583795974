package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Ledger evaluates coupon eligibility and commits usage after settlement.
type Ledger struct {
	repo   Repository
	filter *CodeFilter
	now    func() time.Time
}

// NewLedger creates a Ledger backed by repo. filter may be nil.
func NewLedger(repo Repository, filter *CodeFilter) *Ledger {
	return &Ledger{repo: repo, filter: filter, now: time.Now}
}

// Evaluate returns the discount code grants userID on subtotal. Unknown,
// inactive, expired or exhausted coupons yield zero; only storage failures
// are returned as errors. Nothing is recorded.
func (l *Ledger) Evaluate(ctx context.Context, code, userID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	code = NormalizeCode(code)
	if code == "" {
		return decimal.Zero, nil
	}
	missed := l.filter != nil && !l.filter.MayContain(code)
	if missed && !l.filter.Recheck(code, l.now()) {
		return decimal.Zero, nil
	}

	c, err := l.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, errors.Wrap(err, "lookup coupon")
	}
	if missed {
		l.filter.Add(code)
	}

	if !c.UsableBy(userID, l.now()) {
		return decimal.Zero, nil
	}
	return c.Discount(subtotal), nil
}

// Commit records one redemption of code by userID. Callers must invoke it at
// most once per settled order.
func (l *Ledger) Commit(ctx context.Context, code, userID string) error {
	code = NormalizeCode(code)
	if code == "" {
		return nil
	}
	if err := l.repo.RecordUsage(ctx, code, userID, l.now()); err != nil {
		return errors.Wrapf(err, "record usage of %s", code)
	}
	return nil
}
