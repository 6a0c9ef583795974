package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// CodeFilter is a negative cache of existing coupon codes. A miss means the
// code definitely does not exist and the store lookup can be skipped; a hit
// may be a false positive and still goes to the store.
//
// Before the first Rebuild every code is reported as possibly present.
//
// Coupons created after the last Rebuild are missing from the filter. A
// missed code may still be looked up once per recheck interval, see Recheck.
type CodeFilter struct {
	capacity uint
	fpr      float64
	recheck  time.Duration

	mu      sync.RWMutex
	filter  *bloom.BloomFilter
	checked map[string]time.Time
}

// NewCodeFilter creates an empty filter sized for capacity codes at the given
// false positive rate. Missed codes are rechecked at most once a minute.
func NewCodeFilter(capacity uint, fpr float64) *CodeFilter {
	return &CodeFilter{
		capacity: capacity,
		fpr:      fpr,
		recheck:  time.Minute,
		checked:  make(map[string]time.Time),
	}
}

// MayContain reports whether code might be a known coupon.
func (f *CodeFilter) MayContain(code string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.filter == nil {
		return true
	}
	return f.filter.TestString(code)
}

// Rebuild replaces the filter contents with codes.
func (f *CodeFilter) Rebuild(codes []string) {
	capacity := f.capacity
	if n := uint(len(codes)); n > capacity {
		capacity = n
	}
	next := bloom.NewWithEstimates(capacity, f.fpr)
	for _, c := range codes {
		next.AddString(NormalizeCode(c))
	}

	f.mu.Lock()
	f.filter = next
	clear(f.checked)
	f.mu.Unlock()
}

// Add inserts a code found in the store after the last Rebuild.
func (f *CodeFilter) Add(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filter != nil {
		f.filter.AddString(NormalizeCode(code))
	}
	delete(f.checked, code)
}

// Recheck reports whether a code missed by the filter should be looked up in
// the store anyway. It returns true at most once per code per recheck
// interval. Tracking is bounded by the filter capacity; when full, expired
// entries are dropped and further codes wait for the next Rebuild.
func (f *CodeFilter) Recheck(code string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if at, ok := f.checked[code]; ok && now.Sub(at) < f.recheck {
		return false
	}
	if uint(len(f.checked)) >= f.capacity {
		for c, at := range f.checked {
			if now.Sub(at) >= f.recheck {
				delete(f.checked, c)
			}
		}
		if uint(len(f.checked)) >= f.capacity {
			return false
		}
	}
	f.checked[code] = now
	return true
}

// Refresh reloads the filter from repo.
func (f *CodeFilter) Refresh(ctx context.Context, repo Repository) error {
	codes, err := repo.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list coupon codes")
	}
	f.Rebuild(codes)
	return nil
}

// Run refreshes the filter every interval until ctx is cancelled. Coupons are
// created outside of checkout, so the filter must be reloaded periodically.
func (f *CodeFilter) Run(ctx context.Context, lg *zap.Logger, repo Repository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.Refresh(ctx, repo); err != nil {
				lg.Warn("Coupon filter refresh failed", zap.Error(err))
			}
		}
	}
}
