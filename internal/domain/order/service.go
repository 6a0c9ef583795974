package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/xenking/martok-store/internal/domain/coupon"
	"github.com/xenking/martok-store/internal/domain/pricing"
	"github.com/xenking/martok-store/internal/domain/product"
	"github.com/xenking/martok-store/internal/domain/settings"
)

// CouponLedger evaluates coupons at pricing time and commits their usage on
// settlement.
type CouponLedger interface {
	Evaluate(ctx context.Context, code, userID string, subtotal decimal.Decimal) (decimal.Decimal, error)
	Commit(ctx context.Context, code, userID string) error
}

// ItemRequest is a client supplied cart line: only a product reference and a
// quantity are trusted.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	Customer        Customer
	Items           []ItemRequest
	CouponCode      string
	ShippingAddress Address
	PaymentMethod   PaymentMethod
	Notes           string
}

// Config tunes order creation policy.
type Config struct {
	// CommitStockOnCreate decrements stock when an offline order is created
	// instead of when it is settled.
	CommitStockOnCreate bool
}

// Service implements the order lifecycle.
type Service struct {
	orders   Repository
	products product.Repository
	coupons  CouponLedger
	notifier Notifier
	cfg      Config

	metrics *metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	products product.Repository,
	coupons CouponLedger,
	notifier Notifier,
	meterProvider metric.MeterProvider,
	tracerProvider trace.TracerProvider,
	cfg Config,
) (*Service, error) {
	m, err := newMetrics(meterProvider)
	if err != nil {
		return nil, errors.Wrap(err, "order metrics")
	}
	return &Service{
		orders:   orders,
		products: products,
		coupons:  coupons,
		notifier: notifier,
		cfg:      cfg,
		metrics:  m,
		tracer:   tracerProvider.Tracer("martok/order"),
		now:      time.Now,
	}, nil
}

// Get returns the order with the given id.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.GetByID(ctx, id)
}

// GetByIntentID returns the order created for a gateway payment intent.
func (s *Service) GetByIntentID(ctx context.Context, intentID string) (*Order, error) {
	return s.orders.GetByIntentID(ctx, intentID)
}

// Flagged lists orders awaiting manual reconciliation.
func (s *Service) Flagged(ctx context.Context) ([]Order, error) {
	return s.orders.ListFlagged(ctx)
}

// Quote prices items for userID without persisting anything.
func (s *Service) Quote(ctx context.Context, userID string, items []ItemRequest, couponCode string, st settings.Settings) (*pricing.Quote, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID}
		}
	}
	items = mergeItems(items)
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]*product.Product, len(fetched))
	for i := range fetched {
		byID[fetched[i].ID] = &fetched[i]
	}

	pricingItems := make([]pricing.Item, len(items))
	for i, item := range items {
		pricingItems[i] = pricing.Item{
			ProductID: item.ProductID,
			Product:   byID[item.ProductID],
			Quantity:  item.Quantity,
		}
	}

	discount := func(subtotal decimal.Decimal) (decimal.Decimal, error) {
		return s.coupons.Evaluate(ctx, couponCode, userID, subtotal)
	}
	return pricing.Price(pricingItems, st, discount)
}

// mergeItems folds repeated products into one request, keeping the order in
// which products first appear.
func mergeItems(items []ItemRequest) []ItemRequest {
	merged := make([]ItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}

// Draft validates and prices req into an unsaved pending order. The caller
// may attach payment references before passing it to Place.
func (s *Service) Draft(ctx context.Context, req CreateRequest, st settings.Settings) (*Order, error) {
	if req.Customer.ID == "" {
		return nil, &ValidationError{Field: "customer", Reason: "required"}
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}
	if err := methodEnabled(req.PaymentMethod, st.Payment); err != nil {
		return nil, err
	}

	q, err := s.Quote(ctx, req.Customer.ID, req.Items, req.CouponCode, st)
	if err != nil {
		return nil, err
	}

	if req.PaymentMethod == MethodCOD && q.Total.LessThan(st.Payment.COD.MinOrderAmount) {
		return nil, &MinimumAmountError{
			Method:  MethodCOD,
			Minimum: st.Payment.COD.MinOrderAmount,
			Total:   q.Total,
		}
	}

	now := s.now()
	items := make([]LineItem, len(q.Lines))
	for i, l := range q.Lines {
		items[i] = LineItem{
			ProductID:       l.ProductID,
			Name:            l.Name,
			Image:           l.Image,
			Price:           l.UnitPrice,
			DiscountedPrice: l.DiscountedPrice,
			Quantity:        l.Quantity,
			Total:           l.Total,
		}
	}

	o := &Order{
		ID:              uuid.New().String(),
		Number:          NewNumber(now),
		Customer:        req.Customer,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   PaymentPending,
		Status:          StatusPending,
		History:         []StatusChange{{Status: StatusPending, At: now, Note: "order created"}},
		Subtotal:        q.Subtotal,
		CouponDiscount:  q.CouponDiscount,
		ShippingFee:     q.ShippingFee,
		Tax:             q.Tax,
		Total:           q.Total,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// A code that contributed nothing is not recorded, so it is never committed.
	if q.CouponDiscount.IsPositive() {
		o.CouponCode = coupon.NormalizeCode(req.CouponCode)
	}
	if o.PaymentMethod.Offline() {
		o.Payment.OfflineRef = strings.ToUpper(string(o.PaymentMethod)) + "-" + o.Number
	}
	return o, nil
}

// Place persists a drafted order. Offline orders take their stock here when
// CommitStockOnCreate is set.
func (s *Service) Place(ctx context.Context, o *Order) error {
	commit := s.cfg.CommitStockOnCreate && o.PaymentMethod.Offline()
	if commit {
		if err := s.takeStock(ctx, o.Items); err != nil {
			return err
		}
		o.InventoryCommitted = true
	}

	if err := s.orders.Create(ctx, o); err != nil {
		err = errors.Wrap(err, "create order")
		if commit {
			err = multierr.Append(err, s.releaseStock(ctx, o.Items))
		}
		return err
	}
	s.metrics.created.Add(ctx, 1, metric.WithAttributes(methodAttr(o.PaymentMethod)))
	return nil
}

// Create drafts and places an order in one step. Used by the offline flows;
// the gateway flow creates its payment intent between the two.
func (s *Service) Create(ctx context.Context, req CreateRequest, st settings.Settings) (*Order, error) {
	o, err := s.Draft(ctx, req, st)
	if err != nil {
		return nil, err
	}
	if err := s.Place(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func methodEnabled(m PaymentMethod, p settings.Payment) error {
	var enabled bool
	switch m {
	case MethodGateway:
		enabled = p.Gateway.Enabled
	case MethodChat:
		enabled = p.Chat.Enabled
	case MethodCOD:
		enabled = p.COD.Enabled
	default:
		return &ValidationError{Field: "paymentMethod", Reason: "unknown method " + string(m)}
	}
	if !enabled {
		return &MethodDisabledError{Method: m}
	}
	return nil
}
