package order

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"github.com/xenking/martok-store/internal/domain/product"
)

// InsufficientStockError indicates stock ran out for a line between pricing
// and the moment inventory was taken. It matches product.ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID string
	Name      string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", e.Name)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == product.ErrInsufficientStock
}

// takeStock decrements stock and increments sold count for every line. On
// failure the lines already applied are restored before returning.
func (s *Service) takeStock(ctx context.Context, items []LineItem) error {
	for i, it := range items {
		err := s.products.AdjustStock(ctx, it.ProductID, -it.Quantity, it.Quantity)
		if err == nil {
			continue
		}
		if errors.Is(err, product.ErrInsufficientStock) {
			err = &InsufficientStockError{ProductID: it.ProductID, Name: it.Name}
		} else {
			err = errors.Wrapf(err, "adjust stock of %s", it.ProductID)
		}
		if rerr := s.releaseStock(ctx, items[:i]); rerr != nil {
			return multierr.Append(err, errors.Wrap(rerr, "compensate"))
		}
		return err
	}
	return nil
}

// releaseStock is the inverse of takeStock. Every line is attempted even if
// an earlier one fails.
func (s *Service) releaseStock(ctx context.Context, items []LineItem) error {
	var errs error
	for _, it := range items {
		if err := s.products.AdjustStock(ctx, it.ProductID, it.Quantity, -it.Quantity); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "restore stock of %s", it.ProductID))
		}
	}
	return errs
}
