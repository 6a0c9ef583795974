package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/martok-store/internal/domain/order"
)

const orderColumns = `id, number, customer, items, shipping_address, payment_method, payment_status, status,
	history, subtotal, coupon_code, coupon_discount, shipping_fee, tax, total,
	COALESCE(intent_id, ''), payment_id, payment_signature, offline_ref, tracking_number, notes, delivered_at,
	inventory_committed, needs_reconciliation, reconciliation_note, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (id, number, customer_id, customer, items, shipping_address,
		payment_method, payment_status, status, history, subtotal, coupon_code, coupon_discount, shipping_fee,
		tax, total, intent_id, payment_id, payment_signature, offline_ref, notes, inventory_committed,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULLIF($17::text, ''),
		$18, $19, $20, $21, $22, $23, $24)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByIntentIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE intent_id = $1`

	// Empty guard values match any state. Payment fields merge: empty
	// values keep what is stored. delivered_at is written once.
	updateOrderSQL = `UPDATE orders SET
		status = COALESCE($4, status),
		payment_status = COALESCE($5, payment_status),
		history = history || $6::jsonb,
		intent_id = COALESCE(NULLIF($7::text, ''), intent_id),
		payment_id = COALESCE(NULLIF($8::text, ''), payment_id),
		payment_signature = COALESCE(NULLIF($9::text, ''), payment_signature),
		offline_ref = COALESCE(NULLIF($10::text, ''), offline_ref),
		tracking_number = COALESCE($11, tracking_number),
		notes = COALESCE($12, notes),
		delivered_at = COALESCE(delivered_at, $13),
		inventory_committed = COALESCE($14, inventory_committed),
		needs_reconciliation = COALESCE($15, needs_reconciliation),
		reconciliation_note = COALESCE($16, reconciliation_note),
		updated_at = $17
		WHERE id = $1 AND ($2::text = '' OR status = $2) AND ($3::text = '' OR payment_status = $3)
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	listFlaggedOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE needs_reconciliation ORDER BY updated_at`

	listExpiredPendingSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE payment_method = $1 AND status = 'pending' AND payment_status = 'pending' AND created_at < $2
		ORDER BY created_at LIMIT 500`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// Create persists a new order. Customer, items, address and history are
// stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return fmt.Errorf("marshaling customer: %w", err)
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}
	history, err := marshalHistory(o.History)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.Number, o.Customer.ID, customer, items, address,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.Status), history,
		o.Subtotal, o.CouponCode, o.CouponDiscount, o.ShippingFee, o.Tax, o.Total,
		o.Payment.IntentID, o.Payment.PaymentID, o.Payment.Signature, o.Payment.OfflineRef,
		o.Notes, o.InventoryCommitted, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns order.ErrNotFound when no order has the id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderByIDSQL, id)
}

// GetByIntentID returns the order paid through the given gateway intent.
func (r *OrderRepository) GetByIntentID(ctx context.Context, intentID string) (*order.Order, error) {
	if intentID == "" {
		return nil, order.ErrNotFound
	}
	return r.getOne(ctx, getOrderByIntentIDSQL, intentID)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return &o, nil
}

// Update applies patch if the order still matches guard. It returns
// order.ErrStaleState when the order exists but moved on.
func (r *OrderRepository) Update(ctx context.Context, id string, guard order.Guard, patch order.Patch) (*order.Order, error) {
	history, err := marshalHistory(patch.AppendHistory)
	if err != nil {
		return nil, err
	}
	var payment order.PaymentDetails
	if patch.Payment != nil {
		payment = *patch.Payment
	}

	rows, err := r.pool.Query(ctx, updateOrderSQL,
		id, string(guard.Status), string(guard.PaymentStatus),
		textPtr(patch.Status), textPtr(patch.PaymentStatus), history,
		payment.IntentID, payment.PaymentID, payment.Signature, payment.OfflineRef,
		patch.TrackingNumber, patch.Notes, patch.DeliveredAt,
		patch.InventoryCommitted, patch.NeedsReconciliation, patch.ReconciliationNote,
		r.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err == nil {
		return &o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("updating order %q: %w", id, err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return nil, order.ErrNotFound
	}
	return nil, order.ErrStaleState
}

// ListFlagged returns orders awaiting manual reconciliation, oldest first.
func (r *OrderRepository) ListFlagged(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listFlaggedOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing flagged orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ListExpiredPending returns up to 500 unpaid orders of method created
// before the cutoff.
func (r *OrderRepository) ListExpiredPending(ctx context.Context, method order.PaymentMethod, before time.Time) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listExpiredPendingSQL, string(method), before)
	if err != nil {
		return nil, fmt.Errorf("listing expired orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func marshalHistory(h []order.StatusChange) (string, error) {
	if len(h) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("marshaling history: %w", err)
	}
	return string(data), nil
}

func textPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                             order.Order
		method, paymentStatus, status string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.Customer, &o.Items, &o.ShippingAddress,
		&method, &paymentStatus, &status, &o.History,
		&o.Subtotal, &o.CouponCode, &o.CouponDiscount, &o.ShippingFee, &o.Tax, &o.Total,
		&o.Payment.IntentID, &o.Payment.PaymentID, &o.Payment.Signature, &o.Payment.OfflineRef,
		&o.TrackingNumber, &o.Notes, &o.DeliveredAt,
		&o.InventoryCommitted, &o.NeedsReconciliation, &o.ReconciliationNote,
		&o.CreatedAt, &o.UpdatedAt,
	)
	o.PaymentMethod = order.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	return o, err
}
